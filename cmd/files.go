// Copyright (c) 2020 Siemens AG
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
//
// Author(s): Jonas Plum

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/forensicanalysis/evidencefs"
	"github.com/forensicanalysis/evidencefs/inode"
	"github.com/forensicanalysis/evidencefs/scanners"
	"github.com/forensicanalysis/evidencefs/vfs"
)

func (a *app) createCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create <case>",
		Short: "Create a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, teardown, err := a.openCase(args[0], true)
			if err != nil {
				return err
			}
			teardown()
			fmt.Fprintln(cmd.OutOrStdout(), a.config.CasePath(args[0]))
			return nil
		},
	}
}

func (a *app) loadCommand() *cobra.Command {
	var prefix string
	loadCmd := &cobra.Command{
		Use:   "load <case> <file>...",
		Short: "Add files and directories as evidence",
		Args:  cobra.MinimumNArgs(2), //nolint:gomnd
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, teardown, err := a.openCase(args[0], false)
			if err != nil {
				return err
			}
			defer teardown()

			for _, arg := range args[1:] {
				if err := load(cmd, fsys, afero.NewOsFs(), arg, prefix); err != nil {
					return err
				}
			}
			return nil
		},
	}
	loadCmd.Flags().StringVar(&prefix, "prefix", "/", "directory in the case to add the files to")
	return loadCmd
}

// load adds the file or directory tree at src below prefix.
func load(cmd *cobra.Command, fsys *vfs.FileSystem, srcFS afero.Fs, src, prefix string) error {
	return afero.Walk(srcFS, src, func(srcPath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}

		dest := casePath(prefix, srcPath)
		f, err := srcFS.Open(srcPath)
		if err != nil {
			return err
		}
		defer f.Close()

		entry, err := fsys.AddFile(cmd.Context(), dest, f, info.ModTime())
		if err != nil {
			return errors.Wrapf(err, "load %s", srcPath)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "load %s %s\n", entry.Inode, entry.FullPath())
		return nil
	})
}

// casePath maps an OS path into the case, drive letters become
// directories.
func casePath(prefix, osPath string) string {
	p := filepath.ToSlash(osPath)
	p = strings.Replace(p, ":", "", 1)
	return path.Join("/", prefix, p)
}

func (a *app) streamCommand() *cobra.Command {
	var conn scanners.Connection
	var dest, ts string
	streamCmd := &cobra.Command{
		Use:   "stream <case> <file>",
		Short: "Add a reassembled connection stream",
		Long: `Add the combined data of both directions of a TCP connection. The
protocol scanners use the registered connection details.`,
		Args: cobra.ExactArgs(2), //nolint:gomnd
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			fsys, teardown, err := a.openCase(args[0], false)
			if err != nil {
				return err
			}
			defer teardown()

			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}

			conn.Time = info.ModTime()
			if ts != "" {
				if conn.Time, err = time.Parse(time.RFC3339, ts); err != nil {
					return errors.Wrap(err, "time")
				}
			}
			if dest == "" {
				dest = path.Join("/streams", filepath.Base(args[1]))
			}

			entry, err := fsys.AddFile(ctx, dest, f, conn.Time)
			if err != nil {
				return err
			}
			conn.Inode = entry.Inode
			if err := scanners.RegisterConnection(ctx, fsys.Store(), &conn); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stream %s %s\n", entry.Inode, entry.FullPath())
			return nil
		},
	}
	streamCmd.Flags().StringVar(&dest, "path", "", "path in the case (default /streams/<file name>)")
	streamCmd.Flags().StringVar(&conn.SrcIP, "src-ip", "", "client address")
	streamCmd.Flags().IntVar(&conn.SrcPort, "src-port", 0, "client port")
	streamCmd.Flags().StringVar(&conn.DestIP, "dest-ip", "", "server address")
	streamCmd.Flags().IntVar(&conn.DestPort, "dest-port", 0, "server port")
	streamCmd.Flags().StringVar(&ts, "time", "", "start of the connection (RFC 3339, default modification time)")
	return streamCmd
}

func (a *app) removeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <case> <path>",
		Aliases: []string{"remove"},
		Short:   "Remove an evidence source and everything derived from it",
		Args:    cobra.ExactArgs(2), //nolint:gomnd
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, teardown, err := a.openCase(args[0], false)
			if err != nil {
				return err
			}
			defer teardown()

			n, err := fsys.RemoveSource(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", n)
			return nil
		},
	}
}

func (a *app) lsCommand() *cobra.Command {
	var recursive bool
	lsCmd := &cobra.Command{
		Use:   "ls <case> [path]",
		Short: "List a directory",
		Args:  cobra.RangeArgs(1, 2), //nolint:gomnd
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, teardown, err := a.openCase(args[0], false)
			if err != nil {
				return err
			}
			defer teardown()

			dir := "/"
			if len(args) > 1 {
				dir = args[1]
			}
			return ls(cmd, fsys, dir, recursive)
		},
	}
	lsCmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "list subdirectories")
	return lsCmd
}

func ls(cmd *cobra.Command, fsys *vfs.FileSystem, dir string, recursive bool) error {
	it, err := fsys.Walk(cmd.Context(), dir)
	if err != nil {
		return err
	}
	var subdirs []string
	for it.Next() {
		entry := it.Entry()
		fmt.Fprintf(cmd.OutOrStdout(), "%s %-24s %s\n", entry.Mode, entry.Inode, entry.FullPath())
		if recursive && entry.IsDir() {
			subdirs = append(subdirs, entry.FullPath())
		}
	}
	if err := it.Err(); err != nil {
		return err
	}
	for _, sub := range subdirs {
		if err := ls(cmd, fsys, sub, true); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) catCommand() *cobra.Command {
	var raw string
	catCmd := &cobra.Command{
		Use:   "cat <case> [path]",
		Short: "Print the content of a file",
		Args:  cobra.RangeArgs(1, 2), //nolint:gomnd
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, teardown, err := a.openCase(args[0], false)
			if err != nil {
				return err
			}
			defer teardown()

			var p string
			if len(args) > 1 {
				p = args[1]
			}
			var in inode.Inode
			if raw != "" {
				if in, err = inode.Parse(raw); err != nil {
					return err
				}
			}
			if p == "" && in.Empty() {
				return errors.New("requires a path or an inode")
			}

			f, err := fsys.Open(cmd.Context(), p, in)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = io.Copy(cmd.OutOrStdout(), f)
			return err
		},
	}
	catCmd.Flags().StringVarP(&raw, "inode", "i", "", "open an inode instead of a path")
	return catCmd
}

type istatOutput struct {
	Inode      string                 `json:"inode"`
	Status     evidencefs.Status      `json:"status"`
	Size       int64                  `json:"size"`
	Mtime      *time.Time             `json:"mtime,omitempty"`
	Atime      *time.Time             `json:"atime,omitempty"`
	Ctime      *time.Time             `json:"ctime,omitempty"`
	Dtime      *time.Time             `json:"dtime,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (a *app) istatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "istat <case> <inode>",
		Short: "Show the metadata of an inode",
		Args:  cobra.ExactArgs(2), //nolint:gomnd
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, teardown, err := a.openCase(args[0], false)
			if err != nil {
				return err
			}
			defer teardown()

			in, err := inode.Parse(args[1])
			if err != nil {
				return err
			}
			info, err := fsys.Istat(cmd.Context(), in)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(istatOutput{
				Inode:      info.Inode.String(),
				Status:     info.Status,
				Size:       info.Size,
				Mtime:      optionalTime(info.Mtime),
				Atime:      optionalTime(info.Atime),
				Ctime:      optionalTime(info.Ctime),
				Dtime:      optionalTime(info.Dtime),
				Properties: info.Properties,
			})
		},
	}
}

func (a *app) validateCommand() *cobra.Command {
	var noFail bool
	validateCmd := &cobra.Command{
		Use:   "validate <case>",
		Short: "Check a case for consistency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, teardown, err := a.openCase(args[0], false)
			if err != nil {
				return err
			}
			defer teardown()

			flaws, err := fsys.Validate(cmd.Context())
			if err != nil {
				return err
			}
			if len(flaws) == 0 {
				log.Info().Str("case", args[0]).Msg("case is valid")
				return nil
			}
			b, err := json.Marshal(flaws)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			if noFail {
				return nil
			}
			return errors.Errorf("case has %d flaws", len(flaws))
		},
	}
	validateCmd.Flags().BoolVar(&noFail, "no-fail", false, "return exit code 0")
	return validateCmd
}
