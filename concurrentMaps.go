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
	"sort"
	"sync"
)

// tableMap caches the columns of every table so identifiers passed to
// Insert and friends can be checked before they end up in SQL text.
type tableMap struct {
	sync.RWMutex
	tables map[string]map[string]bool
}

func newTableMap() *tableMap {
	return &tableMap{tables: map[string]map[string]bool{}}
}

func (tm *tableMap) set(table string, columns []string) {
	tm.Lock()
	defer tm.Unlock()
	cols := make(map[string]bool, len(columns))
	for _, column := range columns {
		cols[column] = true
	}
	tm.tables[table] = cols
}

func (tm *tableMap) has(table string) bool {
	tm.RLock()
	defer tm.RUnlock()
	_, ok := tm.tables[table]
	return ok
}

func (tm *tableMap) hasColumn(table, column string) bool {
	tm.RLock()
	defer tm.RUnlock()
	return tm.tables[table][column]
}

func (tm *tableMap) columns(table string) []string {
	tm.RLock()
	defer tm.RUnlock()
	var columns []string
	for column := range tm.tables[table] {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	return columns
}

func (tm *tableMap) names() []string {
	tm.RLock()
	defer tm.RUnlock()
	var names []string
	for name := range tm.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
