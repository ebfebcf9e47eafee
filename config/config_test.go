/*
 * Copyright (c) 2020 Siemens AG
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy of
 * this software and associated documentation files (the "Software"), to deal in
 * the Software without restriction, including without limitation the rights to
 * use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
 * the Software, and to permit persons to whom the Software is furnished to do so,
 * subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
 * FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
 * COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
 * IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
 * CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 *
 * Author(s): Jonas Plum
 */

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestDefault(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ".", c.CasesDir)
	assert.Equal(t, 4, c.Workers)
	assert.Equal(t, 1<<20, c.BufferSize)
	assert.Equal(t, int64(32<<20), c.SpoolSize)
	assert.Equal(t, time.Second, c.PollInterval)
	assert.Equal(t, 10*time.Minute, c.LeaseTimeout)
	assert.Equal(t, 3, c.MaxAttempts)
	assert.Equal(t, "sqlite", c.Queue.Backend)
	assert.Equal(t, "localhost:6379", c.Queue.Redis.Addr)
	assert.Equal(t, []int{80, 8080, 3128}, c.HTTPPorts)
	assert.Equal(t, []int{25, 587}, c.SMTPPorts)
	assert.Equal(t, "info", c.Log.Level)
	assert.False(t, c.Log.JSON)
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		check   func(t *testing.T, c *Config)
		wantErr bool
	}{
		{
			name:    "yaml",
			file:    "evidencefs.yaml",
			content: "cases_dir: /cases\nworkers: 8\nqueue:\n  backend: redis\n  redis:\n    addr: redis:6379\nlog:\n  json: true\n",
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, "/cases", c.CasesDir)
				assert.Equal(t, 8, c.Workers)
				assert.Equal(t, "redis", c.Queue.Backend)
				assert.Equal(t, "redis:6379", c.Queue.Redis.Addr)
				assert.True(t, c.Log.JSON)
				// untouched keys keep their default
				assert.Equal(t, 16, c.MaxDepth)
				assert.Equal(t, []int{25, 587}, c.SMTPPorts)
				assert.Equal(t, "info", c.Log.Level)
			},
		},
		{
			name:    "json",
			file:    "evidencefs.json",
			content: `{"http_ports": [8000], "poll_interval": "250ms", "spool_size": 1024}`,
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, []int{8000}, c.HTTPPorts)
				assert.Equal(t, 250*time.Millisecond, c.PollInterval)
				assert.Equal(t, int64(1024), c.SpoolSize)
				assert.Equal(t, 4, c.Workers)
			},
		},
		{
			name:    "zero falls back",
			file:    "evidencefs.yml",
			content: "workers: 0\ncases_dir: \"\"\n",
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 4, c.Workers)
				assert.Equal(t, ".", c.CasesDir)
			},
		},
		{name: "unknown backend", file: "evidencefs.yaml", content: "queue:\n  backend: kafka\n", wantErr: true},
		{name: "negative", file: "evidencefs.yaml", content: "max_depth: -1\n", wantErr: true},
		{name: "format", file: "evidencefs.toml", content: "workers = 1\n", wantErr: true},
		{name: "broken", file: "evidencefs.yaml", content: "workers: [\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Load(write(t, tt.file, tt.content))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, c)
		})
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_CasePath(t *testing.T) {
	c := &Config{CasesDir: "/cases"}
	tests := []struct {
		name string
		want string
	}{
		{"incident", filepath.Join("/cases", "incident.evidence")},
		{"incident.db", filepath.Join("/cases", "incident.db")},
		{"./incident", "./incident.evidence"},
		{"/tmp/incident.evidence", "/tmp/incident.evidence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.CasePath(tt.name))
		})
	}
}

func TestConfig_QueuePath(t *testing.T) {
	c := &Config{CasesDir: "/cases"}
	assert.Equal(t, filepath.Join("/cases", "jobs.db"), c.QueuePath())
	c.Queue.Path = "/var/lib/jobs.db"
	assert.Equal(t, "/var/lib/jobs.db", c.QueuePath())
}
