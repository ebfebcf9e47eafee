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

package scanner

import (
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Spec describes a registered module.
type Spec struct {
	Name        string
	Depends     []string
	Description string
	Default     bool
	New         func() Factory
}

// Registry holds all known modules.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

func NewRegistry() *Registry {
	return &Registry{specs: map[string]Spec{}}
}

// Register adds a module. Names must be unique.
func (r *Registry) Register(spec Spec) error {
	if spec.Name == "" || spec.New == nil {
		return errors.New("scanner needs a name and a constructor")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.specs[spec.Name]; ok {
		return errors.Errorf("scanner %s already registered", spec.Name)
	}
	r.specs[spec.Name] = spec
	return nil
}

// Specs returns all modules ordered by name.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]Spec, 0, len(r.specs))
	for _, spec := range r.specs {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Check verifies that all dependencies are registered and that there are
// no dependency cycles.
func (r *Registry) Check() error {
	var names []string
	for _, spec := range r.Specs() {
		names = append(names, spec.Name)
	}
	_, err := r.Resolve(names)
	return err
}

// Glob selects module names by shell patterns. The pattern "default"
// selects the default modules, "all" every module.
func (r *Registry) Glob(patterns ...string) ([]string, error) {
	seen := map[string]bool{}
	var names []string
	for _, pattern := range patterns {
		matched := false
		for _, spec := range r.Specs() {
			ok, err := matches(pattern, spec)
			if err != nil {
				return nil, errors.Wrapf(err, "pattern %q", pattern)
			}
			if !ok {
				continue
			}
			matched = true
			if !seen[spec.Name] {
				seen[spec.Name] = true
				names = append(names, spec.Name)
			}
		}
		if !matched {
			return nil, errors.Errorf("no scanner matches %q", pattern)
		}
	}
	sort.Strings(names)
	return names, nil
}

func matches(pattern string, spec Spec) (bool, error) {
	switch strings.ToLower(pattern) {
	case "all":
		return true, nil
	case "default":
		return spec.Default, nil
	}
	return path.Match(strings.ToLower(pattern), strings.ToLower(spec.Name))
}

// Resolve adds all dependencies to the named modules and orders the
// result so that every module comes after its dependencies.
func (r *Registry) Resolve(names []string) ([]Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	const (
		unvisited = iota
		visiting
		done
	)
	state := map[string]int{}
	var ordered []Spec

	var visit func(name string, chain []string) error
	visit = func(name string, chain []string) error {
		spec, ok := r.specs[name]
		if !ok {
			if len(chain) > 0 {
				return errors.Errorf("scanner %s depends on unknown scanner %s", chain[len(chain)-1], name)
			}
			return errors.Errorf("unknown scanner %s", name)
		}
		switch state[name] {
		case done:
			return nil
		case visiting:
			return errors.Errorf("dependency cycle %s", strings.Join(append(chain, name), " -> "))
		}
		state[name] = visiting
		for _, dep := range spec.Depends {
			if err := visit(dep, append(chain, name)); err != nil {
				return err
			}
		}
		state[name] = done
		ordered = append(ordered, spec)
		return nil
	}

	sorted := append([]string{}, names...)
	sort.Strings(sorted)
	for _, name := range sorted {
		if err := visit(name, nil); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// Factories resolves names and creates a factory for every module.
func (r *Registry) Factories(names []string) ([]Factory, error) {
	specs, err := r.Resolve(names)
	if err != nil {
		return nil, err
	}
	factories := make([]Factory, len(specs))
	for i, spec := range specs {
		factories[i] = spec.New()
	}
	return factories, nil
}
