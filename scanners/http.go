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
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/forensicanalysis/evidencefs"
	"github.com/forensicanalysis/evidencefs/inode"
	"github.com/forensicanalysis/evidencefs/protocol/http"
	"github.com/forensicanalysis/evidencefs/scanner"
	"github.com/forensicanalysis/evidencefs/vfs"
)

const (
	httpScannerName        = "HTTPScanner"
	httpTable              = "http"
	httpParametersTable    = "http_parameters"
	connectionDetailsTable = "connection_details"
)

var httpSchema = []string{
	`CREATE TABLE IF NOT EXISTS http (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		inode           TEXT NOT NULL DEFAULT '',
		stream          TEXT NOT NULL DEFAULT '',
		parent          INTEGER NOT NULL DEFAULT 0,
		method          TEXT,
		url             TEXT,
		status          INTEGER,
		content_type    TEXT,
		referrer        TEXT,
		date            INTEGER,
		host            TEXT,
		useragent       TEXT,
		request_offset  INTEGER,
		response_offset INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS http_url ON http (url)`,
	`CREATE INDEX IF NOT EXISTS http_inode ON http (inode)`,
	`CREATE INDEX IF NOT EXISTS http_stream ON http (stream)`,
	`CREATE TABLE IF NOT EXISTS http_parameters (
		id      INTEGER PRIMARY KEY AUTOINCREMENT,
		http_id INTEGER NOT NULL,
		inode   TEXT NOT NULL DEFAULT '',
		name    TEXT NOT NULL,
		value   TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS http_parameters_inode ON http_parameters (inode)`,
	`CREATE TABLE IF NOT EXISTS connection_details (
		inode     TEXT NOT NULL DEFAULT '',
		http_id   INTEGER,
		ts        INTEGER,
		src_ip    TEXT,
		src_port  INTEGER,
		dest_ip   TEXT,
		dest_port INTEGER
	)`,
}

var referrerHost = regexp.MustCompile(`^(?:https?|ftp)://([^/?&=]+)`)

// HTTPScanner extracts the responses of HTTP connections. Each response
// body becomes an o inode of the combined stream, followed by c0 for
// chunked and G1 for gzip encoded bodies, at
// <stream dir>/HTTP/<date>/<escaped uri>. Requests are recorded in the
// http table, their parameters in http_parameters.
//
// All registered connections are tried, streams are recognized by their
// content so HTTP on unusual ports (proxies) is found as well.
type HTTPScanner struct {
	scanner.Base
	Ports []int
}

func (s *HTTPScanner) Name() string { return httpScannerName }

func (s *HTTPScanner) Prepare(ctx context.Context, env *scanner.Env) error {
	return env.Store().EnsureTable(ctx, httpSchema...)
}

func (s *HTTPScanner) Reset(ctx context.Context, env *scanner.Env) error {
	return resetStreams(ctx, env, httpTable, httpParametersTable, connectionDetailsTable)
}

func (s *HTTPScanner) NewScan(ctx context.Context, env *scanner.Env, in inode.Inode) (scanner.Scan, error) {
	conn, err := LookupConnection(ctx, env.Store(), in)
	if err != nil || conn == nil {
		return nil, err
	}
	return &httpScan{env: env, conn: conn, expected: contains(s.Ports, conn.DestPort)}, nil
}

type httpScan struct {
	env      *scanner.Env
	conn     *Connection
	expected bool
	dir      string
}

func (s *httpScan) ExternalProcess(ctx context.Context, f vfs.File) error {
	p, err := http.NewParser(f)
	if err != nil {
		return err
	}
	ok, err := p.Identify()
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if !ok {
		if s.expected {
			log.Debug().Str("inode", s.conn.Inode.String()).Int("port", s.conn.DestPort).Msg("no HTTP on HTTP port")
		}
		return nil
	}

	if s.dir, err = streamDirectory(ctx, s.env.FS, s.conn.Inode); err != nil {
		return err
	}
	log.Debug().Str("inode", s.conn.Inode.String()).Msg("opening stream for HTTP")
	if err := s.forget(ctx); err != nil {
		return err
	}

	for {
		msg, err := p.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			log.Warn().Err(evidencefs.NewError(evidencefs.ErrMalformedProtocol, "http", err)).Str("inode", s.conn.Inode.String()).Msg("stopped reading stream")
			return nil
		}
		if err := s.record(ctx, msg); err != nil {
			return err
		}
	}
}

// forget removes the rows of an earlier scan of the stream.
func (s *httpScan) forget(ctx context.Context) error {
	store := s.env.Store()
	previous := squirrel.Expr("http_id IN (SELECT id FROM http WHERE stream = ?)", s.conn.Inode.String())
	for _, table := range []string{httpParametersTable, connectionDetailsTable} {
		if _, err := store.Delete(ctx, table, previous); err != nil {
			return err
		}
	}
	_, err := store.Delete(ctx, httpTable, squirrel.Eq{"stream": s.conn.Inode.String()})
	return err
}

func (s *httpScan) record(ctx context.Context, msg *http.Message) error {
	resp := msg.Response
	req := msg.Request
	if req == nil {
		req = &http.Request{Method: "-", URI: fmt.Sprintf("/unknown_request_%d", resp.Offset), Header: http.Header{}, Offset: -1}
	}

	date, ok := http.ParseDate(resp.Header.Get("date"))
	if !ok {
		date = s.conn.Time
	}

	child, err := s.createBody(ctx, req, resp, date)
	if err != nil {
		return err
	}

	store := s.env.Store()
	parent, err := s.parent(ctx, req.Referrer())
	if err != nil {
		return err
	}

	host := req.Header.Get("host")
	if host == "" {
		host = s.conn.DestIP
	}
	useragent := req.Header.Get("user-agent")
	if useragent == "" {
		useragent = "-"
	}
	id, err := store.Insert(ctx, httpTable, map[string]interface{}{
		"inode":           child.String(),
		"stream":          s.conn.Inode.String(),
		"parent":          parent,
		"method":          req.Method,
		"url":             req.URL(s.conn.DestIP),
		"status":          resp.StatusCode,
		"content_type":    resp.ContentType(),
		"referrer":        req.Referrer(),
		"date":            date,
		"host":            host,
		"useragent":       useragent,
		"request_offset":  req.Offset,
		"response_offset": resp.Offset,
	})
	if err != nil {
		return err
	}

	if _, err := store.Insert(ctx, connectionDetailsTable, map[string]interface{}{
		"inode":     child.String(),
		"http_id":   id,
		"ts":        s.conn.Time,
		"src_ip":    s.conn.SrcIP,
		"src_port":  s.conn.SrcPort,
		"dest_ip":   s.conn.DestIP,
		"dest_port": s.conn.DestPort,
	}); err != nil {
		return err
	}

	if err := s.parameters(ctx, id, child, req); err != nil {
		return err
	}

	if !child.Empty() {
		s.env.Submit(child)
	}
	return nil
}

// createBody adds the inode of a response body. Empty bodies are not worth
// a file, they are only recorded in the http table.
func (s *httpScan) createBody(ctx context.Context, req *http.Request, resp *http.Response, date time.Time) (inode.Inode, error) {
	if resp.BodyLength <= 0 {
		return nil, nil
	}

	child := s.conn.Inode.Append(inode.Offset(resp.BodyOffset, resp.BodyLength))
	props := map[string]interface{}{"mtime": date}
	if resp.Chunked() {
		child = child.Append(inode.Index('c', 0))
	}
	if resp.Gzip() {
		child = child.Append(inode.Index('G', 1))
	}
	if len(child) == len(s.conn.Inode)+1 {
		props["size"] = resp.BodyLength
	}

	day := "unknown"
	if !date.IsZero() {
		day = date.UTC().Format("2006-01-02")
	}
	return s.env.FS.CreateVirtualInode(ctx, nil, child, path.Join(s.dir, "HTTP", day, http.Escape(req.URI)), props)
}

// parent returns the id of the latest request of the referring page. An
// unknown referrer is recorded as a pseudo request without response.
func (s *httpScan) parent(ctx context.Context, referrer string) (int64, error) {
	if referrer == "" {
		return 0, nil
	}
	store := s.env.Store()
	row, err := store.QueryRow(ctx, squirrel.Select("id").From(httpTable).
		Where(squirrel.Eq{"url": referrer}).
		OrderBy("id DESC").
		Limit(1))
	switch {
	case err == nil:
		return row.Int("id"), nil
	case !errors.Is(err, evidencefs.ErrNotFound):
		return 0, err
	}

	m := referrerHost.FindStringSubmatch(referrer)
	if m == nil {
		return 0, nil
	}
	return store.Insert(ctx, httpTable, map[string]interface{}{"url": referrer, "host": m[1]})
}

func (s *httpScan) parameters(ctx context.Context, id int64, child inode.Inode, req *http.Request) error {
	params, err := req.Parameters()
	if err != nil {
		log.Debug().Err(err).Str("uri", req.URI).Msg("could not parse parameters")
	}
	if len(params) == 0 {
		return nil
	}

	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var rows []map[string]interface{}
	for _, key := range keys {
		for _, value := range params[key] {
			rows = append(rows, map[string]interface{}{
				"http_id": id,
				"inode":   child.String(),
				"name":    key,
				"value":   value,
			})
		}
	}
	return s.env.Store().InsertBatch(ctx, httpParametersTable, rows)
}

func (s *httpScan) Finish(context.Context) error { return nil }

// Parameters returns the request parameters recorded for a response body,
// keys are lower case.
func Parameters(ctx context.Context, store *evidencefs.Store, in inode.Inode) (map[string]string, error) {
	params := map[string]string{}
	if !store.HasTable(httpParametersTable) || in.Empty() {
		return params, nil
	}
	rows, err := store.Query(ctx, squirrel.Select("name", "value").From(httpParametersTable).
		Where(squirrel.Eq{"inode": in.String()}).
		OrderBy("id"))
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		params[strings.ToLower(row.Text("name"))] = row.Text("value")
	}
	return params, nil
}
