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

package scanner_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forensicanalysis/evidencefs"
	"github.com/forensicanalysis/evidencefs/inode"
	"github.com/forensicanalysis/evidencefs/jobs"
	"github.com/forensicanalysis/evidencefs/scanner"
	"github.com/forensicanalysis/evidencefs/vfs"
	"github.com/forensicanalysis/evidencefs/vfs/drivers"
)

func registry(t *testing.T, rec *recorder, specs map[string][]string) *scanner.Registry {
	t.Helper()
	reg := scanner.NewRegistry()
	for name, depends := range specs {
		name := name
		require.NoError(t, reg.Register(scanner.Spec{
			Name:    name,
			Depends: depends,
			Default: name != "Extra",
			New:     func() scanner.Factory { return &fake{name: name, rec: rec} },
		}))
	}
	return reg
}

func names(specs []scanner.Spec) []string {
	var n []string
	for _, spec := range specs {
		n = append(n, spec.Name)
	}
	return n
}

func TestRegistry_Resolve(t *testing.T) {
	reg := registry(t, &recorder{}, map[string][]string{
		"TypeScan":       nil,
		"HTTPScanner":    nil,
		"ZipScan":        {"TypeScan"},
		"HotmailScanner": {"HTTPScanner", "TypeScan"},
		"Extra":          nil,
	})
	require.NoError(t, reg.Check())

	tests := []struct {
		name  string
		names []string
		want  []string
	}{
		{"single", []string{"TypeScan"}, []string{"TypeScan"}},
		{"closure", []string{"ZipScan"}, []string{"TypeScan", "ZipScan"}},
		{"shared dependency", []string{"ZipScan", "HotmailScanner"}, []string{"HTTPScanner", "TypeScan", "HotmailScanner", "ZipScan"}},
		{"explicit dependency", []string{"TypeScan", "ZipScan"}, []string{"TypeScan", "ZipScan"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			specs, err := reg.Resolve(tt.names)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(specs))
		})
	}
}

func TestRegistry_ResolveErrors(t *testing.T) {
	tests := []struct {
		name    string
		specs   map[string][]string
		resolve []string
		wantErr string
	}{
		{"unknown", map[string][]string{"a": nil}, []string{"b"}, "unknown scanner b"},
		{"unknown dependency", map[string][]string{"a": {"b"}}, []string{"a"}, "scanner a depends on unknown scanner b"},
		{"cycle", map[string][]string{"a": {"b"}, "b": {"a"}}, []string{"a"}, "dependency cycle a -> b -> a"},
		{"self", map[string][]string{"a": {"a"}}, []string{"a"}, "dependency cycle a -> a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := registry(t, &recorder{}, tt.specs)
			_, err := reg.Resolve(tt.resolve)
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
			if tt.name != "unknown" {
				assert.Error(t, reg.Check())
			}
		})
	}
}

func TestRegistry_Register(t *testing.T) {
	reg := scanner.NewRegistry()
	spec := scanner.Spec{Name: "a", New: func() scanner.Factory { return &fake{name: "a"} }}
	require.NoError(t, reg.Register(spec))
	assert.Error(t, reg.Register(spec))
	assert.Error(t, reg.Register(scanner.Spec{Name: "b"}))
	assert.Error(t, reg.Register(scanner.Spec{New: spec.New}))
}

func TestRegistry_Glob(t *testing.T) {
	reg := registry(t, &recorder{}, map[string][]string{
		"TypeScan":    nil,
		"HashScan":    nil,
		"HTTPScanner": nil,
		"Extra":       nil,
	})

	tests := []struct {
		name     string
		patterns []string
		want     []string
		wantErr  bool
	}{
		{"all", []string{"all"}, []string{"Extra", "HTTPScanner", "HashScan", "TypeScan"}, false},
		{"default", []string{"default"}, []string{"HTTPScanner", "HashScan", "TypeScan"}, false},
		{"pattern", []string{"*scan"}, []string{"HashScan", "TypeScan"}, false},
		{"case insensitive", []string{"httpscanner"}, []string{"HTTPScanner"}, false},
		{"merged", []string{"TypeScan", "t*"}, []string{"TypeScan"}, false},
		{"no match", []string{"nothing"}, nil, true},
		{"bad pattern", []string{"["}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reg.Glob(tt.patterns...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegistry_Factories(t *testing.T) {
	reg := registry(t, &recorder{}, map[string][]string{"a": nil, "b": {"a"}})
	factories, err := reg.Factories([]string{"b"})
	require.NoError(t, err)
	require.Len(t, factories, 2)
	assert.Equal(t, "a", factories[0].Name())
	assert.Equal(t, "b", factories[1].Name())
}

func TestWorker_Process(t *testing.T) {
	url := filepath.Join(t.TempDir(), "case.evidence")
	store, err := evidencefs.New(url)
	require.NoError(t, err)
	fsys := vfs.New(store, drivers.NewRegistry())
	entry, err := fsys.AddFile(context.Background(), "/evidence/a.txt", strings.NewReader("hello"), time.Now())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	rec := &recorder{}
	reg := registry(t, rec, map[string][]string{"a": nil, "b": {"a"}})
	w := scanner.NewWorker(reg, drivers.NewRegistry(), time.Minute)
	w.Default = []string{"a"}

	ctx := context.Background()
	in := entry.Inode.String()
	require.NoError(t, w.Process(ctx, jobs.NewJob("first", url, in, []string{"b"})))
	require.NoError(t, w.Process(ctx, jobs.NewJob("second", url, in, []string{"b"})))
	require.NoError(t, w.Process(ctx, jobs.NewJob("third", url, in, nil)))

	assert.Equal(t, 1, rec.count("a process first "+in+" hello"))
	assert.Equal(t, 1, rec.count("b process second "+in+" hello"))
	assert.Equal(t, 3, rec.count("a finish "+in))

	// one prepared pipeline per scanner set
	assert.Equal(t, 2, rec.count("a prepare"))
	assert.Equal(t, 1, rec.count("b prepare"))

	// eviction callbacks run asynchronously
	w.Close()
	assert.Eventually(t, func() bool {
		return rec.count("a destroy") == 2 && rec.count("b destroy") == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWorker_Process_Errors(t *testing.T) {
	w := scanner.NewWorker(scanner.NewRegistry(), drivers.NewRegistry(), time.Minute)
	defer w.Close()
	ctx := context.Background()

	err := w.Process(ctx, jobs.NewJob("c", filepath.Join(t.TempDir(), "missing.evidence"), "D1", nil))
	assert.Error(t, err)

	err = w.Process(ctx, jobs.NewJob("c", "x", "D1||o1", nil))
	assert.ErrorIs(t, err, evidencefs.ErrBadArgument)
}

func TestWorker_Process_OutlivesCaseTTL(t *testing.T) {
	ctx := context.Background()
	url := filepath.Join(t.TempDir(), "case.evidence")
	store, err := evidencefs.New(url)
	require.NoError(t, err)
	entry, err := vfs.New(store, drivers.NewRegistry()).AddFile(ctx, "/evidence/a.txt", strings.NewReader("hello"), time.Now())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	rec := &recorder{}
	slow := &fake{name: "slow", rec: rec}
	slow.derive = func(env *scanner.Env, in inode.Inode) {
		time.Sleep(300 * time.Millisecond)
		_, err := env.FS.CreateVirtualInode(ctx, in, inode.Inode{inode.Offset(0, 2)}, "head", nil)
		rec.add("derive %v", err)
	}
	reg := scanner.NewRegistry()
	require.NoError(t, reg.Register(scanner.Spec{Name: "slow", New: func() scanner.Factory { return slow }}))

	w := scanner.NewWorker(reg, drivers.NewRegistry(), 50*time.Millisecond)
	defer w.Close()

	require.NoError(t, w.Process(ctx, jobs.NewJob("c", url, entry.Inode.String(), []string{"slow"})))
	assert.Equal(t, 1, rec.count("derive <nil>"), rec.list())

	// the expired case is closed once the job returned
	assert.Eventually(t, func() bool {
		return rec.count("slow destroy") == 1
	}, 5*time.Second, 10*time.Millisecond)

	store, err = evidencefs.Open(url)
	require.NoError(t, err)
	defer store.Close()
	exists, err := vfs.New(store, drivers.NewRegistry()).Exists(ctx, "/evidence/a.txt/head")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestWorker_Process_ReopensExpiredCase(t *testing.T) {
	ctx := context.Background()
	url := filepath.Join(t.TempDir(), "case.evidence")
	store, err := evidencefs.New(url)
	require.NoError(t, err)
	entry, err := vfs.New(store, drivers.NewRegistry()).AddFile(ctx, "/evidence/a.txt", strings.NewReader("hello"), time.Now())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	rec := &recorder{}
	reg := registry(t, rec, map[string][]string{"a": nil})
	w := scanner.NewWorker(reg, drivers.NewRegistry(), 20*time.Millisecond)
	defer w.Close()

	in := entry.Inode.String()
	require.NoError(t, w.Process(ctx, jobs.NewJob("first", url, in, []string{"a"})))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, w.Process(ctx, jobs.NewJob("second", url, in, []string{"a"})))

	assert.Equal(t, 1, rec.count("a process second "+in+" hello"))
	assert.Equal(t, 2, rec.count("a prepare"))
}
