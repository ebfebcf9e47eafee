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

package scanners

import (
	"bytes"
	"context"
	_ "embed" // signatures.yaml
	"encoding/hex"
	"os"

	"github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/forensicanalysis/evidencefs/inode"
	"github.com/forensicanalysis/evidencefs/scanner"
)

const virusTable = "virus"

var virusSchema = []string{
	`CREATE TABLE IF NOT EXISTS virus (
		inode TEXT NOT NULL,
		virus TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS virus_inode ON virus (inode)`,
}

//go:embed signatures.yaml
var defaultSignatures []byte

// DefaultSignatures are compiled into the binary.
var DefaultSignatures = func() *Signatures {
	s, err := ParseSignatures(defaultSignatures)
	if err != nil {
		panic(err)
	}
	return s
}()

// Signature is a byte pattern of known malware.
type Signature struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
	Hex     string `yaml:"hex"`

	raw []byte
}

// Signatures is a set of signatures.
type Signatures struct {
	Signatures []*Signature `yaml:"signatures"`

	longest int
}

// ParseSignatures reads a YAML signature file.
func ParseSignatures(b []byte) (*Signatures, error) {
	s := &Signatures{}
	if err := yaml.Unmarshal(b, s); err != nil {
		return nil, errors.Wrap(err, "parse signatures")
	}
	for _, sig := range s.Signatures {
		switch {
		case sig.Name == "":
			return nil, errors.New("signature without name")
		case sig.Hex != "":
			raw, err := hex.DecodeString(sig.Hex)
			if err != nil {
				return nil, errors.Wrapf(err, "signature %s", sig.Name)
			}
			sig.raw = raw
		default:
			sig.raw = []byte(sig.Pattern)
		}
		if len(sig.raw) == 0 {
			return nil, errors.Errorf("signature %s is empty", sig.Name)
		}
		if len(sig.raw) > s.longest {
			s.longest = len(sig.raw)
		}
	}
	return s, nil
}

// LoadSignatures reads a signature file from disk.
func LoadSignatures(path string) (*Signatures, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read signatures")
	}
	return ParseSignatures(b)
}

// Match returns the name of the first signature found in buf.
func (s *Signatures) Match(buf []byte) string {
	for _, sig := range s.Signatures {
		if bytes.Contains(buf, sig.raw) {
			return sig.Name
		}
	}
	return ""
}

// VirScan reports the first malware signature found in a file.
type VirScan struct {
	scanner.Base
	Signatures *Signatures
}

func (s *VirScan) Name() string { return "VirScan" }

func (s *VirScan) Prepare(ctx context.Context, env *scanner.Env) error {
	if s.Signatures == nil {
		s.Signatures = DefaultSignatures
	}
	return env.Store().EnsureTable(ctx, virusSchema...)
}

func (s *VirScan) Reset(ctx context.Context, env *scanner.Env) error {
	return truncate(ctx, env.Store(), virusTable)
}

func (s *VirScan) NewScan(_ context.Context, env *scanner.Env, in inode.Inode) (scanner.Scan, error) {
	return &virScan{env: env, in: in, signatures: s.Signatures}, nil
}

type virScan struct {
	env        *scanner.Env
	in         inode.Inode
	signatures *Signatures
	virus      string
	tail       []byte
}

func (s *virScan) ProcessBuffer(_ context.Context, buf []byte) error {
	if s.virus != "" {
		return nil
	}
	// patterns may cross buffer boundaries
	window := append(append([]byte{}, s.tail...), buf...)
	s.virus = s.signatures.Match(window)

	keep := s.signatures.longest - 1
	if keep > len(window) {
		keep = len(window)
	}
	if keep < 0 {
		keep = 0
	}
	s.tail = append(s.tail[:0], window[len(window)-keep:]...)
	return nil
}

func (s *virScan) Finish(ctx context.Context) error {
	store := s.env.Store()
	if _, err := store.Delete(ctx, virusTable, squirrel.Eq{"inode": s.in.String()}); err != nil {
		return err
	}
	if s.virus == "" {
		return nil
	}
	_, err := store.Insert(ctx, virusTable, map[string]interface{}{"inode": s.in.String(), "virus": s.virus})
	return err
}
