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

// Package scanners contains the analysis modules of evidencefs.
//
// Memory scans see the content as a sequence of buffers:
//
//	TypeScan   file type classification
//	HashScan   md5, sha1 and blake3 digests
//	VirScan    signature based malware detection
//
// Store and scan modules get random access to the whole content and add
// the files they find to the case:
//
//	ZipScan         members of zip archives
//	RFC2822         mail messages and their parts
//	HTTPScanner     HTTP responses in connection streams
//	SMTPScanner     mails in SMTP connection streams
//	HotmailScanner  Windows Live web mail pages
package scanners

import (
	"context"
	"mime"

	"github.com/Masterminds/squirrel"
	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"

	"github.com/forensicanalysis/evidencefs"
	"github.com/forensicanalysis/evidencefs/inode"
	"github.com/forensicanalysis/evidencefs/scanner"
)

// Options configure the scanners.
type Options struct {
	HTTPPorts []int
	SMTPPorts []int
	// Signatures is the path of a YAML signature file, the built in
	// signatures are used if empty.
	Signatures string
}

// DefaultOptions are used by the command line if nothing is configured.
var DefaultOptions = Options{
	HTTPPorts: []int{80, 8080, 3128},
	SMTPPorts: []int{25, 587},
}

// Register adds all scanners to reg.
func Register(reg *scanner.Registry, opts Options) error {
	signatures := DefaultSignatures
	if opts.Signatures != "" {
		var err error
		if signatures, err = LoadSignatures(opts.Signatures); err != nil {
			return err
		}
	}

	specs := []scanner.Spec{
		{
			Name:        typeScanName,
			Description: "Classify files by their content.",
			Default:     true,
			New:         func() scanner.Factory { return &TypeScan{} },
		},
		{
			Name:        "HashScan",
			Description: "Calculate md5, sha1 and blake3 hashes.",
			Default:     true,
			New:         func() scanner.Factory { return &HashScan{} },
		},
		{
			Name:        "VirScan",
			Description: "Scan files for known malware signatures.",
			New:         func() scanner.Factory { return &VirScan{Signatures: signatures} },
		},
		{
			Name:        "ZipScan",
			Depends:     []string{typeScanName},
			Description: "Add the members of zip archives.",
			Default:     true,
			New:         func() scanner.Factory { return &ZipScan{} },
		},
		{
			Name:        "RFC2822",
			Depends:     []string{typeScanName},
			Description: "Record mail messages and add their parts.",
			Default:     true,
			New:         func() scanner.Factory { return &RFC2822{} },
		},
		{
			Name:        httpScannerName,
			Description: "Extract HTTP responses from connection streams.",
			Default:     true,
			New:         func() scanner.Factory { return &HTTPScanner{Ports: opts.HTTPPorts} },
		},
		{
			Name:        "SMTPScanner",
			Description: "Extract mails from SMTP connection streams.",
			Default:     true,
			New:         func() scanner.Factory { return &SMTPScanner{Ports: opts.SMTPPorts} },
		},
		{
			Name:        "HotmailScanner",
			Depends:     []string{httpScannerName, typeScanName},
			Description: "Extract messages from Windows Live web mail pages.",
			Default:     true,
			New:         func() scanner.Factory { return &HotmailScanner{} },
		},
	}
	for _, spec := range specs {
		if err := reg.Register(spec); err != nil {
			return err
		}
	}
	return reg.Check()
}

// NewRegistry returns a registry with all scanners.
func NewRegistry(opts Options) (*scanner.Registry, error) {
	reg := scanner.NewRegistry()
	if err := Register(reg, opts); err != nil {
		return nil, err
	}
	return reg, nil
}

// Type returns the content type TypeScan recorded for an inode, an empty
// string if the inode was not classified.
func Type(ctx context.Context, store *evidencefs.Store, in inode.Inode) (string, error) {
	if !store.HasTable(typeTable) {
		return "", nil
	}
	row, err := store.QueryRow(ctx, squirrel.Select("mime").From(typeTable).Where(squirrel.Eq{"inode": in.String()}))
	if errors.Is(err, evidencefs.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.Text("mime"), nil
}

// isA reports whether detected is want or one of its subtypes, e.g.
// application/vnd.openxmlformats-officedocument.wordprocessingml.document
// is an application/zip.
func isA(detected, want string) bool {
	base, _, err := mime.ParseMediaType(detected)
	if err != nil {
		return false
	}
	for m := mimetype.Lookup(base); m != nil; m = m.Parent() {
		if m.Is(want) {
			return true
		}
	}
	return false
}

func hasType(ctx context.Context, env *scanner.Env, in inode.Inode, want string) (bool, error) {
	detected, err := Type(ctx, env.Store(), in)
	if err != nil {
		return false, err
	}
	return isA(detected, want), nil
}

func contains(ports []int, port int) bool {
	for _, p := range ports {
		if p == port {
			return true
		}
	}
	return false
}

// truncate removes all rows of the given tables.
func truncate(ctx context.Context, store *evidencefs.Store, tables ...string) error {
	for _, table := range tables {
		if !store.HasTable(table) {
			continue
		}
		if _, err := store.Delete(ctx, table, squirrel.Expr("1 = 1")); err != nil {
			return err
		}
	}
	return nil
}
