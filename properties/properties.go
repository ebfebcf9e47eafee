// Copyright (c) 2019 Nguyễn Quốc Đính
// Copyright (c) 2019 Siemens AG
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
// Author(s): Nguyễn Quốc Đính, Jonas Plum
//
// This code was adapted from
// https://github.com/nqd/flat/blob/master/flat.go

// Package properties converts the nested metadata of an inode into the flat
// key value rows of the inode_property table and back.
package properties

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/imdario/mergo"
)

// Delimiter joins the keys of nested values.
const Delimiter = "."

// Flatten the map, it returns a map one level deep
// regardless of how nested the original map was.
// Nil values and empty containers are dropped.
func Flatten(nested map[string]interface{}) (map[string]interface{}, error) {
	return flatten("", nested)
}

func flatten(prefix string, nested interface{}) (map[string]interface{}, error) {
	flatmap := make(map[string]interface{})
	if nested == nil {
		return flatmap, nil
	}

	value := reflect.ValueOf(nested)
	switch value.Type().Kind() {
	case reflect.Map:
		for _, k := range value.MapKeys() {
			key := fmt.Sprint(k.Interface())
			if strings.Contains(key, Delimiter) {
				return nil, fmt.Errorf("key %q must not contain %q", key, Delimiter)
			}
			fm, err := flatten(join(prefix, key), value.MapIndex(k).Interface())
			if err != nil {
				return nil, err
			}
			update(flatmap, fm)
		}
	case reflect.Slice:
		if value.Type().Elem().Kind() == reflect.Uint8 {
			flatmap[prefix] = nested
			break
		}
		for i := 0; i < value.Len(); i++ {
			fm, err := flatten(join(prefix, strconv.Itoa(i)), value.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			update(flatmap, fm)
		}
	default:
		flatmap[prefix] = nested
	}
	return flatmap, nil
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + Delimiter + key
}

func update(to map[string]interface{}, from map[string]interface{}) {
	for kt, vt := range from {
		to[kt] = vt
	}
}

// Unflatten the map, it returns a nested map. Maps whose keys are exactly
// 0..n-1 become lists.
func Unflatten(flat map[string]interface{}) (map[string]interface{}, error) {
	nested := make(map[string]interface{})

	for k, v := range flat {
		temp := uf(k, v).(map[string]interface{})
		if err := mergo.Merge(&nested, temp); err != nil {
			return nil, err
		}
	}

	walk(reflect.ValueOf(nested))
	return nested, nil
}

func uf(k string, v interface{}) (n interface{}) {
	n = v
	keys := strings.Split(k, Delimiter)
	for i := len(keys) - 1; i >= 0; i-- {
		n = map[string]interface{}{keys[i]: n}
	}
	return n
}

func walk(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Array, reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			element := v.Index(i)
			element.Set(walk(element))
		}
		return v
	case reflect.Map:
		mapKeys := v.MapKeys()

		isList := true
		list := make([]interface{}, len(mapKeys))
		for _, k := range mapKeys {
			j, err := strconv.Atoi(k.String())
			if err != nil || j < 0 || j > len(mapKeys)-1 || list[j] != nil {
				isList = false
				break
			}
			list[j] = v.MapIndex(k).Interface()
		}

		for _, k := range v.MapKeys() {
			v.SetMapIndex(k, walk(v.MapIndex(k)))
		}
		if isList {
			for i := range list {
				list[i] = v.MapIndex(reflect.ValueOf(strconv.Itoa(i))).Interface()
			}
			return reflect.ValueOf(list)
		}
		return v
	default:
		return v
	}
}

// Text renders a flat value for the value column.
func Text(v interface{}) string {
	switch v := v.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}

// Rows flattens the properties of an inode into inode_property rows sorted
// by key.
func Rows(in string, nested map[string]interface{}) ([]map[string]interface{}, error) {
	flat, err := Flatten(nested)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]map[string]interface{}, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, map[string]interface{}{"inode": in, "prop": k, "value": Text(flat[k])})
	}
	return rows, nil
}
