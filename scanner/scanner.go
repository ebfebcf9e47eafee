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

// Package scanner runs analysis modules over the files of a case. A
// Factory is prepared once per case, it creates a Scan for every file.
// Scans either look at the content buffer by buffer (MemoryScan) or need
// random access to the complete file (StoreAndScan). Files found inside
// other files are submitted back to the pipeline and scanned in turn.
package scanner

import (
	"context"

	"github.com/forensicanalysis/evidencefs"
	"github.com/forensicanalysis/evidencefs/inode"
	"github.com/forensicanalysis/evidencefs/vfs"
)

// Factory is an analysis module.
type Factory interface {
	Name() string
	// Prepare is called once before the first scan, it creates tables.
	Prepare(ctx context.Context, env *Env) error
	// Reset removes everything the module recorded in the case.
	Reset(ctx context.Context, env *Env) error
	Destroy(ctx context.Context, env *Env) error
	// NewScan returns the scan of a single file or nil if the module is
	// not interested in it.
	NewScan(ctx context.Context, env *Env, in inode.Inode) (Scan, error)
}

// Scan is the per file state of a Factory.
type Scan interface {
	// Finish is called exactly once after all content was delivered.
	Finish(ctx context.Context) error
}

// MemoryScan receives the content in buffers.
type MemoryScan interface {
	Scan
	ProcessBuffer(ctx context.Context, buf []byte) error
}

// StoreAndScan receives the complete file once all buffers are
// delivered.
type StoreAndScan interface {
	Scan
	ExternalProcess(ctx context.Context, f vfs.File) error
}

// Env is passed to every factory and scan.
type Env struct {
	FS        *vfs.FileSystem
	Cookie    string
	Factories []Factory

	submit func(in inode.Inode)
}

// Case is the name of the case being scanned.
func (env *Env) Case() string {
	return env.FS.Case()
}

func (env *Env) Store() *evidencefs.Store {
	return env.FS.Store()
}

// Submit queues a derived inode for scanning.
func (env *Env) Submit(in inode.Inode) {
	if env.submit != nil {
		env.submit(in)
	}
}

// Enabled reports whether a factory of the given name is part of the
// scan.
func (env *Env) Enabled(name string) bool {
	for _, f := range env.Factories {
		if f.Name() == name {
			return true
		}
	}
	return false
}

// Base can be embedded by factories without setup or teardown.
type Base struct{}

func (Base) Prepare(context.Context, *Env) error { return nil }
func (Base) Reset(context.Context, *Env) error   { return nil }
func (Base) Destroy(context.Context, *Env) error { return nil }
