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
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/forensicanalysis/evidencefs"
	"github.com/forensicanalysis/evidencefs/vfs"
)

func (a *app) exportCommand() *cobra.Command {
	var mode, dir string
	exportCmd := &cobra.Command{
		Use:   "export <case> [path]",
		Short: "Extract files to the local file system",
		Args:  cobra.RangeArgs(1, 2), //nolint:gomnd
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, teardown, err := a.openCase(args[0], false)
			if err != nil {
				return err
			}
			defer teardown()

			src := "/"
			if len(args) > 1 {
				src = args[1]
			}
			e := &exporter{fsys: fsys, dest: afero.NewBasePathFs(afero.NewOsFs(), dir), mode: mode}
			return e.export(cmd, src)
		},
	}

	usage := `define the export filename and folder structure. can be one of:
folder (e.g. 'C/Users/user/AppData/Local/Google/Chrome/User Data/Default/Extensions/xx/1.11_1/example.json')
compact (e.g. 'C_User_user_AppD_Loca_Goog_Chro_User_Defa_Exte_xx_1.11_exam.json')
basename (e.g. 'example.json')
`
	exportCmd.Flags().StringVar(&mode, "mode", "compact", usage)
	exportCmd.Flags().StringVarP(&dir, "output", "o", ".", "destination directory")
	return exportCmd
}

type exporter struct {
	fsys *vfs.FileSystem
	dest afero.Fs
	mode string
}

// export extracts the file or directory tree at p.
func (e *exporter) export(cmd *cobra.Command, p string) error {
	ctx := cmd.Context()
	entry, err := e.fsys.Lookup(ctx, p)
	if err != nil {
		return err
	}
	if !entry.IsDir() {
		return e.file(cmd, entry)
	}

	it, err := e.fsys.Walk(ctx, p)
	if err != nil {
		return err
	}
	var subdirs []string
	for it.Next() {
		child := it.Entry()
		if child.IsDir() {
			subdirs = append(subdirs, child.FullPath())
			continue
		}
		if err := e.file(cmd, child); err != nil {
			return err
		}
	}
	if err := it.Err(); err != nil {
		return err
	}
	for _, sub := range subdirs {
		if err := e.export(cmd, sub); err != nil {
			return err
		}
	}
	return nil
}

func (e *exporter) file(cmd *cobra.Command, entry *evidencefs.DirEntry) error {
	fullPath := entry.FullPath()
	dest := destinationPath(fullPath, e.mode)
	if err := e.copy(cmd.Context(), entry, dest); err != nil {
		return errors.Wrapf(err, "export %s", fullPath)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "export '%s' to '%s'\n", fullPath, dest)
	return nil
}

func (e *exporter) copy(ctx context.Context, entry *evidencefs.DirEntry, dest string) error {
	f, err := e.fsys.Open(ctx, "", entry.Inode)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := e.dest.MkdirAll(filepath.Dir(filepath.FromSlash(dest)), 0o755); err != nil {
		return err
	}
	return afero.WriteReader(e.dest, filepath.FromSlash(dest), f)
}

func first(s string, n int) string {
	if len(s) < n {
		n = len(s)
	}
	return s[:n]
}

func last(s string, n int) string {
	if len(s) < n {
		n = len(s)
	}
	return s[len(s)-n:]
}

func splitExt(filePath string) (nameOnly, ext string) {
	ext = path.Ext(filePath)
	nameOnly = filePath[:len(filePath)-len(ext)]
	return nameOnly, ext
}

func normalizeFilePath(filePath string) string {
	maxLength := 64
	maxSegmentLength := 4
	filePath = strings.TrimLeft(filePath, "/")
	pathSegments := strings.Split(filePath, "/")
	normalizedFilePath := strings.Join(pathSegments, "_")

	// get first 4 letters of every directory, while longer than maxLength
	for i := 0; i < len(pathSegments)-1 && len(normalizedFilePath) > maxLength; i++ {
		pathSegments[i] = first(pathSegments[i], maxSegmentLength)
		normalizedFilePath = strings.Join(pathSegments, "_")
	}

	if len(normalizedFilePath) > maxLength {
		// if still to long get first maxSegmentLength letters of filename + extension
		nameOnly, ext := splitExt(pathSegments[len(pathSegments)-1])
		pathSegments[len(pathSegments)-1] = first(nameOnly, maxSegmentLength) + ext
		normalizedFilePath = strings.Join(pathSegments, "_")
	}

	return last(normalizedFilePath, maxLength)
}

func destinationPath(fullPath string, mode string) string {
	switch mode {
	case "basename":
		return path.Base(fullPath)
	case "folder":
		return strings.TrimLeft(fullPath, "/")
	default:
		return normalizeFilePath(fullPath)
	}
}
