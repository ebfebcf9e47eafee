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

// Package cmd implements the evidencefs command line.
package cmd

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/forensicanalysis/evidencefs"
	"github.com/forensicanalysis/evidencefs/config"
	"github.com/forensicanalysis/evidencefs/jobs"
	"github.com/forensicanalysis/evidencefs/scanner"
	"github.com/forensicanalysis/evidencefs/scanners"
	"github.com/forensicanalysis/evidencefs/vfs"
	"github.com/forensicanalysis/evidencefs/vfs/drivers"
)

type app struct {
	configFile string
	logLevel   string
	config     *config.Config
}

// Root returns the evidencefs command with all subcommands.
func Root() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "evidencefs",
		Short:         "Analyze evidence in a virtual file system",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.ErrOrStderr())
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.configFile, "config", "c", os.Getenv("EVIDENCEFS_CONFIG"), "configuration file (yaml or json)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "overwrite the configured log level")

	rootCmd.AddCommand(
		a.createCommand(), a.loadCommand(), a.streamCommand(), a.removeCommand(),
		a.lsCommand(), a.catCommand(), a.istatCommand(), a.validateCommand(), a.exportCommand(),
		a.scannersCommand(), a.scanFSCommand(), a.resetScanFSCommand(), a.scanCommand(), a.workerCommand(),
	)
	return rootCmd
}

func (a *app) setup(w io.Writer) error {
	c, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	a.config = c
	return configureLogging(c.Log, a.logLevel, w)
}

func configureLogging(c config.Log, override string, w io.Writer) error {
	name := c.Level
	if override != "" {
		name = override
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return errors.Wrapf(err, "log level %q", name)
	}
	zerolog.SetGlobalLevel(level)
	if c.JSON {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: w})
	}
	return nil
}

// openCase opens the store of a case and its file system. The returned
// function closes the store.
func (a *app) openCase(name string, create bool) (*vfs.FileSystem, func(), error) {
	p := a.config.CasePath(name)
	var store *evidencefs.Store
	var err error
	if create {
		store, err = evidencefs.New(p)
	} else {
		store, err = evidencefs.Open(p)
	}
	if err != nil {
		return nil, nil, errors.Wrapf(err, "case %s", name)
	}

	fsys := vfs.New(store, drivers.NewRegistry())
	if a.config.SpoolSize > 0 {
		fsys.SetSpoolSize(a.config.SpoolSize)
	}
	return fsys, func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Str("case", p).Msg("close case")
		}
	}, nil
}

func (a *app) registry() (*scanner.Registry, error) {
	return scanners.NewRegistry(scanners.Options{
		HTTPPorts:  a.config.HTTPPorts,
		SMTPPorts:  a.config.SMTPPorts,
		Signatures: a.config.Signatures,
	})
}

// pipeline creates a pipeline for the scanners selected by patterns,
// "default" if none are given.
func (a *app) pipeline(fsys *vfs.FileSystem, patterns []string) (*scanner.Pipeline, error) {
	reg, err := a.registry()
	if err != nil {
		return nil, err
	}
	names, err := selectScanners(reg, patterns)
	if err != nil {
		return nil, err
	}
	factories, err := reg.Factories(names)
	if err != nil {
		return nil, err
	}
	p := scanner.New(fsys, "", factories)
	a.configure(p)
	return p, nil
}

func (a *app) configure(p *scanner.Pipeline) {
	if a.config.BufferSize > 0 {
		p.BufferSize = a.config.BufferSize
	}
	if a.config.MaxDepth > 0 {
		p.MaxDepth = a.config.MaxDepth
	}
	if a.config.SpoolSize > 0 {
		p.Env().FS.SetSpoolSize(a.config.SpoolSize)
	}
}

func selectScanners(reg *scanner.Registry, patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		patterns = []string{"default"}
	}
	return reg.Glob(patterns...)
}

func (a *app) openQueue(ctx context.Context) (jobs.Queue, error) {
	switch a.config.Queue.Backend {
	case "redis":
		r := a.config.Queue.Redis
		return jobs.DialRedisQueue(ctx, r.Addr, r.Password, r.DB)
	default:
		p := a.config.QueuePath()
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, errors.Wrap(err, "queue directory")
		}
		return jobs.OpenSQLiteQueue(p)
	}
}
