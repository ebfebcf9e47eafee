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

package drivers

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/forensicanalysis/evidencefs"
	"github.com/forensicanalysis/evidencefs/inode"
	"github.com/forensicanalysis/evidencefs/vfs"
)

var rowTemplate = template.Must(template.New("row").Parse(`<html><body>
<table border=1>
{{- range . }}
<tr><td>{{ .Column }}</td><td>{{ if .Value }}{{ .Value }}{{ else }}&nbsp;{{ end }}</td></tr>
{{- end }}
</table></body></html>
`))

type cell struct {
	Column string
	Value  string
}

// TableAddress is the payload of a t segment.
type TableAddress struct {
	Table  string
	Key    string
	Value  string
	Column string
}

// Segment returns the t segment of the address.
func (a TableAddress) Segment() inode.Segment {
	payload := strings.Join([]string{a.Table, a.Key, a.Value}, ":")
	if a.Column != "" {
		payload += ":" + a.Column
	}
	return inode.Segment{Specifier: 't', Payload: payload}
}

func parseTableAddress(s inode.Segment) (TableAddress, error) {
	parts := strings.Split(s.Payload, ":")
	switch len(parts) {
	case 3: //nolint:gomnd
		return TableAddress{Table: parts[0], Key: parts[1], Value: parts[2]}, nil
	case 4: //nolint:gomnd
		return TableAddress{Table: parts[0], Key: parts[1], Value: parts[2], Column: parts[3]}, nil
	}
	return TableAddress{}, errors.Wrapf(inode.ErrMalformed, "segment %s is not a table address", s)
}

// openTable renders a table row. The parent, if any, is only the context
// the row was extracted from.
func openTable(ctx context.Context, fsys *vfs.FileSystem, parent vfs.File, address inode.Inode) (vfs.File, error) {
	addr, err := parseTableAddress(address.Last())
	if err != nil {
		return nil, evidencefs.NewError(evidencefs.ErrBadArgument, "open "+address.String(), err)
	}

	store := fsys.Store()
	for _, column := range []string{addr.Key, addr.Column} {
		if column != "" && !store.HasColumn(addr.Table, column) {
			return nil, evidencefs.NewError(evidencefs.ErrBadArgument, "open "+address.String(), errors.Errorf("unknown column %s.%s", addr.Table, column))
		}
	}

	query := squirrel.Select("*").
		From(fmt.Sprintf("%q", addr.Table)).
		Where(squirrel.Eq{fmt.Sprintf("%q", addr.Key): addr.Value}).
		Limit(1)
	row, err := store.QueryRow(ctx, query)
	if err != nil {
		return nil, err
	}

	var data []byte
	if addr.Column != "" {
		data = []byte(row.Text(addr.Column))
	} else {
		var cells []cell
		for _, column := range store.Columns(addr.Table) {
			cells = append(cells, cell{Column: column, Value: row.Text(column)})
		}
		var buf bytes.Buffer
		if err := rowTemplate.Execute(&buf, cells); err != nil {
			return nil, err
		}
		data = buf.Bytes()
	}

	if parent != nil {
		_ = parent.Close()
	}
	return vfs.NewFile(address, bytes.NewReader(data), int64(len(data))), nil
}
