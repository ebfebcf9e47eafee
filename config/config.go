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

// Package config loads the evidencefs configuration. The built in defaults
// are overlaid by an optional YAML or JSON file.
package config

import (
	_ "embed"
	"path/filepath"
	"strings"
	"time"

	"github.com/imdario/mergo"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

//go:embed default.yaml
var defaultConfig []byte

// CaseExtension is appended to case names without extension.
const CaseExtension = ".evidence"

type Config struct {
	CasesDir     string        `koanf:"cases_dir"`
	Workers      int           `koanf:"workers"`
	BufferSize   int           `koanf:"buffer_size"`
	SpoolSize    int64         `koanf:"spool_size"`
	MaxDepth     int           `koanf:"max_depth"`
	PollInterval time.Duration `koanf:"poll_interval"`
	LeaseTimeout time.Duration `koanf:"lease_timeout"`
	MaxAttempts  int           `koanf:"max_attempts"`
	CaseTTL      time.Duration `koanf:"case_ttl"`
	Queue        Queue         `koanf:"queue"`
	HTTPPorts    []int         `koanf:"http_ports"`
	SMTPPorts    []int         `koanf:"smtp_ports"`
	Signatures   string        `koanf:"signatures"`
	Metrics      Metrics       `koanf:"metrics"`
	Log          Log           `koanf:"log"`
}

type Queue struct {
	// Backend is sqlite or redis.
	Backend string `koanf:"backend"`
	Path    string `koanf:"path"`
	Redis   Redis  `koanf:"redis"`
}

type Redis struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type Metrics struct {
	Addr string `koanf:"addr"`
}

type Log struct {
	Level string `koanf:"level"`
	// JSON switches from console output to JSON lines.
	JSON bool `koanf:"json"`
}

var parsers = map[string]func() koanf.Parser{
	".yaml": func() koanf.Parser { return yaml.Parser() },
	".yml":  func() koanf.Parser { return yaml.Parser() },
	".json": func() koanf.Parser { return json.Parser() },
}

// Default returns the built in configuration.
func Default() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(defaultConfig), yaml.Parser()); err != nil {
		return nil, errors.Wrap(err, "load default config")
	}
	return unmarshal(k)
}

// Load reads the configuration file at path on top of the defaults. An
// empty path returns the defaults. Settings left empty in the file keep
// their default.
func Load(path string) (*Config, error) {
	defaults, err := Default()
	if err != nil || path == "" {
		return defaults, err
	}

	parser, ok := parsers[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, errors.Errorf("unsupported config format %q", filepath.Ext(path))
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser()); err != nil {
		return nil, errors.Wrapf(err, "load config %s", path)
	}
	c, err := unmarshal(k)
	if err != nil {
		return nil, err
	}
	if err := mergo.Merge(c, defaults); err != nil {
		return nil, errors.Wrap(err, "merge defaults")
	}
	return c, c.validate()
}

func unmarshal(k *koanf.Koanf) (*Config, error) {
	c := &Config{}
	if err := k.UnmarshalWithConf("", c, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	return c, nil
}

func (c *Config) validate() error {
	switch c.Queue.Backend {
	case "sqlite", "redis":
	default:
		return errors.Errorf("unknown queue backend %q", c.Queue.Backend)
	}
	if c.Workers < 0 || c.BufferSize < 0 || c.MaxDepth < 0 {
		return errors.New("workers, buffer_size and max_depth must not be negative")
	}
	return nil
}

// CasePath returns the store of a case. Names that are paths are used as
// is, plain names are placed in the cases directory.
func (c *Config) CasePath(name string) string {
	if filepath.Ext(name) == "" {
		name += CaseExtension
	}
	if filepath.IsAbs(name) || strings.ContainsRune(name, filepath.Separator) || strings.ContainsRune(name, '/') {
		return name
	}
	return filepath.Join(c.CasesDir, name)
}

// QueuePath returns the database of the sqlite job queue.
func (c *Config) QueuePath() string {
	if c.Queue.Path != "" {
		return c.Queue.Path
	}
	return filepath.Join(c.CasesDir, "jobs.db")
}
