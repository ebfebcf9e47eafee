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

package evidencefs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds. Use errors.Is to test for them.
var (
	ErrNotFound          = errors.New("not found")
	ErrUnknownDriver     = errors.New("unknown driver")
	ErrNotAFile          = errors.New("not a file")
	ErrNotADirectory     = errors.New("not a directory")
	ErrBadArgument       = errors.New("bad argument")
	ErrMalformedProtocol = errors.New("malformed protocol")
	ErrScannerFailure    = errors.New("scanner failure")
	ErrStore             = errors.New("store error")
)

// Error attaches a kind from the list above to an underlying cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

// NewError creates an *Error.
func NewError(kind error, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(ErrStore, op, err)
}
