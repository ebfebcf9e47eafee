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
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/fatih/structs"
	strcase "github.com/stoewer/go-strcase"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s can be used as table or column name.
func ValidIdentifier(s string) bool {
	return identifier.MatchString(s)
}

// structFields converts a struct into a column map. Column names are the
// snake cased field names unless a `structs` tag is set, empty values are
// skipped.
func structFields(element interface{}) map[string]interface{} {
	fields := map[string]interface{}{}
	for _, field := range structs.New(element).Fields() {
		if !field.IsExported() {
			continue
		}
		name := strings.Split(field.Tag("structs"), ",")[0]
		if name == "-" {
			continue
		}
		if name == "" {
			name = strcase.SnakeCase(field.Name())
		}
		value := field.Value()
		if isEmptyValue(reflect.ValueOf(value)) {
			continue
		}
		fields[name] = lower(value)
	}
	return fields
}

// lower maps values onto the types SQLite can bind.
func lower(f interface{}) interface{} {
	switch f := f.(type) {
	case nil, string, []byte, int64, float64, bool:
		return f
	case int:
		return int64(f)
	case int32:
		return int64(f)
	case uint32:
		return int64(f)
	case uint16:
		return int64(f)
	case float32:
		return float64(f)
	case time.Time:
		if f.IsZero() {
			return nil
		}
		return f.Unix()
	case []string:
		return strings.Join(f, ",")
	case fmt.Stringer:
		return f.String()
	default:
		return fmt.Sprint(f)
	}
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Interface, reflect.Ptr:
		return v.IsNil()
	case reflect.Invalid:
		return true
	}
	return false
}
