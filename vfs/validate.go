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
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/forensicanalysis/evidencefs/inode"
)

// Validate returns the flaws of the case: inconsistencies of the store
// and inodes that can not be resolved because a specifier has no driver.
func (fsys *FileSystem) Validate(ctx context.Context) ([]string, error) {
	flaws, err := fsys.store.Validate(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := fsys.store.Query(ctx, squirrel.Select("DISTINCT inode").
		From("file").
		Where(squirrel.NotEq{"inode": ""}).
		OrderBy("inode"))
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		in, err := inode.Parse(row.Text("inode"))
		if err != nil {
			flaws = append(flaws, fmt.Sprintf("malformed inode %q", row.Text("inode")))
			continue
		}
		for _, specifier := range in.Specifiers() {
			if _, ok := fsys.drivers.Lookup(specifier); !ok {
				flaws = append(flaws, fmt.Sprintf("no driver for %q in %s", specifier, in))
				break
			}
		}
	}
	return flaws, nil
}
