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
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/forensicanalysis/evidencefs/jobs"
	"github.com/forensicanalysis/evidencefs/metrics"
	"github.com/forensicanalysis/evidencefs/scanner"
	"github.com/forensicanalysis/evidencefs/vfs"
	"github.com/forensicanalysis/evidencefs/vfs/drivers"
)

func (a *app) scannersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scanners",
		Short: "List the available scanners",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := a.registry()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0) //nolint:gomnd
			fmt.Fprintln(w, "NAME\tDEFAULT\tDEPENDS\tDESCRIPTION")
			for _, spec := range reg.Specs() {
				fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", spec.Name, spec.Default, strings.Join(spec.Depends, ","), spec.Description)
			}
			return w.Flush()
		},
	}
}

func (a *app) scanFSCommand() *cobra.Command {
	var names []string
	scanCmd := &cobra.Command{
		Use:   "scanfs <case>",
		Short: "Scan all evidence files of a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fsys, teardown, err := a.openCase(args[0], false)
			if err != nil {
				return err
			}
			defer teardown()

			p, err := a.pipeline(fsys, names)
			if err != nil {
				return err
			}
			summary, err := p.ScanFS(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned %d files, %d with failures\n", summary.Files, summary.Failed)
			return nil
		},
	}
	scanCmd.Flags().StringSliceVarP(&names, "scanners", "s", nil, "scanners or patterns, 'all' or 'default' (default \"default\")")
	return scanCmd
}

func (a *app) resetScanFSCommand() *cobra.Command {
	var names []string
	resetCmd := &cobra.Command{
		Use:   "resetscanfs <case>",
		Short: "Remove the results of scanners",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys, teardown, err := a.openCase(args[0], false)
			if err != nil {
				return err
			}
			defer teardown()

			if len(names) == 0 {
				names = []string{"all"}
			}
			p, err := a.pipeline(fsys, names)
			if err != nil {
				return err
			}
			return p.Reset(cmd.Context())
		},
	}
	resetCmd.Flags().StringSliceVarP(&names, "scanners", "s", nil, "scanners or patterns (default \"all\")")
	return resetCmd
}

func (a *app) scanCommand() *cobra.Command {
	var names []string
	var pattern string
	var detach bool
	scanCmd := &cobra.Command{
		Use:   "scan <case>",
		Short: "Submit scan jobs for the workers and wait for them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reg, err := a.registry()
			if err != nil {
				return err
			}
			if names, err = selectScanners(reg, names); err != nil {
				return err
			}

			fsys, teardown, err := a.openCase(args[0], false)
			if err != nil {
				return err
			}
			defer teardown()
			raw, err := selectInodes(ctx, fsys, pattern)
			if err != nil {
				return err
			}

			casePath, err := filepath.Abs(a.config.CasePath(args[0]))
			if err != nil {
				return err
			}
			q, err := a.openQueue(ctx)
			if err != nil {
				return err
			}
			defer q.Close()

			cookie, err := jobs.Submit(ctx, q, casePath, raw, names)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cookie)
			if detach {
				return nil
			}

			err = jobs.WaitForScan(ctx, q, cookie, a.config.PollInterval)
			if errors.Is(err, context.Canceled) {
				// the context is gone, abort with a fresh one
				if aerr := q.Abort(context.Background(), cookie); aerr != nil {
					log.Error().Err(aerr).Str("cookie", cookie).Msg("abort scan")
				}
				log.Warn().Str("cookie", cookie).Msg("scan aborted")
			}
			return err
		},
	}
	scanCmd.Flags().StringSliceVarP(&names, "scanners", "s", nil, "scanners or patterns (default \"default\")")
	scanCmd.Flags().StringVar(&pattern, "inodes", "", "inode pattern like 'D*|Z*' of the files to scan (default all evidence files)")
	scanCmd.Flags().BoolVarP(&detach, "detach", "d", false, "do not wait for the scan")
	return scanCmd
}

// selectInodes returns the inodes matching pattern or, without pattern,
// the inodes of all evidence files.
func selectInodes(ctx context.Context, fsys *vfs.FileSystem, pattern string) ([]string, error) {
	var raw []string
	if pattern != "" {
		inodes, err := fsys.GlobInodes(ctx, pattern)
		if err != nil {
			return nil, err
		}
		for _, in := range inodes {
			raw = append(raw, in.String())
		}
		return raw, nil
	}

	it := fsys.RealFiles(ctx)
	for it.Next() {
		raw = append(raw, it.Entry().Inode.String())
	}
	return raw, it.Err()
}

func (a *app) workerCommand() *cobra.Command {
	var workers int
	var metricsAddr string
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Process scan jobs from the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reg, err := a.registry()
			if err != nil {
				return err
			}
			defaults, err := reg.Glob("default")
			if err != nil {
				return err
			}
			q, err := a.openQueue(ctx)
			if err != nil {
				return err
			}
			defer q.Close()

			worker := scanner.NewWorker(reg, drivers.NewRegistry(), a.config.CaseTTL)
			defer worker.Close()
			worker.Default = defaults
			worker.Configure = a.configure

			if workers <= 0 {
				workers = a.config.Workers
			}
			if metricsAddr == "" {
				metricsAddr = a.config.Metrics.Addr
			}

			g, ctx := errgroup.WithContext(ctx)
			if metricsAddr != "" {
				g.Go(func() error {
					return metrics.Serve(ctx, metricsAddr)
				})
			}
			g.Go(func() error {
				pool := &jobs.Pool{
					Queue:    q,
					Handler:  worker,
					Workers:  workers,
					MaxIdle:  a.config.PollInterval,
					Lease:    a.config.LeaseTimeout,
					Attempts: a.config.MaxAttempts,
				}
				log.Info().Int("workers", workers).Str("queue", a.config.Queue.Backend).Msg("waiting for jobs")
				return pool.Run(ctx)
			})
			return g.Wait()
		},
	}
	workerCmd.Flags().IntVarP(&workers, "workers", "w", 0, "number of parallel jobs (default from config)")
	workerCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	return workerCmd
}
