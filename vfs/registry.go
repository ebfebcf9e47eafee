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

package vfs

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/forensicanalysis/evidencefs/inode"
)

// A Driver opens one segment of a composite inode. parent is the handle
// produced by the previous segment, nil for the first segment. address
// is the inode up to and including the segment to open. On success the
// returned File owns parent and closes it on Close.
type Driver interface {
	Open(ctx context.Context, fsys *FileSystem, parent File, address inode.Inode) (File, error)
}

// DriverFunc adapts a function to the Driver interface.
type DriverFunc func(ctx context.Context, fsys *FileSystem, parent File, address inode.Inode) (File, error)

func (f DriverFunc) Open(ctx context.Context, fsys *FileSystem, parent File, address inode.Inode) (File, error) {
	return f(ctx, fsys, parent, address)
}

// Registry maps specifier characters to drivers.
type Registry struct {
	mu      sync.RWMutex
	drivers map[byte]Driver
}

func NewRegistry() *Registry {
	return &Registry{drivers: map[byte]Driver{}}
}

// Register adds a driver. A specifier can only be registered once.
func (r *Registry) Register(specifier byte, driver Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.drivers[specifier]; ok {
		return errors.Errorf("driver %q already registered", specifier)
	}
	r.drivers[specifier] = driver
	return nil
}

// Lookup returns the driver for a specifier.
func (r *Registry) Lookup(specifier byte) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[specifier]
	return d, ok
}

// Specifiers lists all registered specifiers in ascending order.
func (r *Registry) Specifiers() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specifiers := make([]byte, 0, len(r.drivers))
	for s := range r.drivers {
		specifiers = append(specifiers, s)
	}
	sort.Slice(specifiers, func(i, j int) bool { return specifiers[i] < specifiers[j] })
	return specifiers
}
