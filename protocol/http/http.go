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

// Package http recovers HTTP requests and responses from a reassembled
// connection stream. Requests and responses are expected to alternate, the
// parser resynchronizes on lines that are neither.
package http

import (
	"io"
	"mime"
	"mime/multipart"
	nethttp "net/http"
	"net/mail"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/forensicanalysis/evidencefs/protocol/stream"
)

const identifyWindow = 1024

// DefaultMaxRequestBody is the amount of a request body kept for the
// extraction of form parameters.
const DefaultMaxRequestBody = 1 << 20

var (
	requestLine = regexp.MustCompile(`(?i)(GET|POST|PUT|HEAD|DELETE|OPTIONS|PROPFIND|PATCH|TRACE|CONNECT) +([^ \r\n]+) +HTTP/1\.\d`)
	statusLine  = regexp.MustCompile(`(?i)HTTP/1\.\d +(\d{3})\b`)
	validKey    = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
)

// Header maps lower case header names to the last value seen.
type Header map[string]string

// Get returns the value of a header, case insensitive.
func (h Header) Get(key string) string {
	return h[strings.ToLower(key)]
}

func (h Header) contains(key, token string) bool {
	return strings.Contains(strings.ToLower(h.Get(key)), token)
}

// Request is a parsed request. The body is only kept for form parameters.
type Request struct {
	Method string
	URI    string
	Header Header
	Offset int64
	Body   []byte
}

// URL returns the absolute URL, the host header or defaultHost completes
// relative request URIs.
func (r *Request) URL(defaultHost string) string {
	if strings.HasPrefix(r.URI, "http://") || strings.HasPrefix(r.URI, "https://") || strings.HasPrefix(r.URI, "ftp://") {
		return r.URI
	}
	host := r.Header.Get("host")
	if host == "" {
		host = defaultHost
	}
	return "http://" + host + r.URI
}

// Referrer returns the referer header in either spelling.
func (r *Request) Referrer() string {
	if ref := r.Header.Get("referer"); ref != "" {
		return ref
	}
	return r.Header.Get("referrer")
}

// Parameters returns the query parameters and, for form posts, the
// parameters of the body. Keys that are not plain identifiers are skipped.
func (r *Request) Parameters() (url.Values, error) {
	params := url.Values{}
	if i := strings.Index(r.URI, "?"); i >= 0 {
		query, err := url.ParseQuery(r.URI[i+1:])
		if err != nil && len(query) == 0 {
			return nil, errors.Wrap(err, "parse query")
		}
		merge(params, query)
	}

	if len(r.Body) == 0 {
		return params, nil
	}

	mediaType, mediaParams, err := mime.ParseMediaType(r.Header.Get("content-type"))
	if err != nil {
		return params, nil
	}
	switch mediaType {
	case "application/x-www-form-urlencoded":
		form, err := url.ParseQuery(string(r.Body))
		if err != nil && len(form) == 0 {
			return params, errors.Wrap(err, "parse form")
		}
		merge(params, form)
	case "multipart/form-data":
		form, err := multipart.NewReader(strings.NewReader(string(r.Body)), mediaParams["boundary"]).ReadForm(int64(len(r.Body)))
		if err != nil {
			return params, errors.Wrap(err, "parse multipart form")
		}
		defer form.RemoveAll() //nolint:errcheck
		merge(params, form.Value)
		for key, files := range form.File {
			for _, f := range files {
				params.Add(key, f.Filename)
			}
		}
	}
	return params, nil
}

func merge(to url.Values, from map[string][]string) {
	for key, values := range from {
		if !validKey.MatchString(key) {
			continue
		}
		for _, v := range values {
			to.Add(key, v)
		}
	}
}

// Response is a parsed response. BodyOffset and BodyLength span the raw
// body in the stream, transfer encoding included.
type Response struct {
	StatusCode int
	Header     Header
	Offset     int64
	BodyOffset int64
	BodyLength int64
}

// Chunked reports whether the body uses chunked transfer encoding.
func (r *Response) Chunked() bool {
	return r.Header.contains("transfer-encoding", "chunked")
}

// Gzip reports whether the body is gzip encoded.
func (r *Response) Gzip() bool {
	return r.Header.contains("content-encoding", "gzip")
}

// ContentType returns the content type, text/html if none was sent.
func (r *Response) ContentType() string {
	if ct := r.Header.Get("content-type"); ct != "" {
		return ct
	}
	return "text/html"
}

// Message is a response together with the request preceding it. Request
// is nil if the stream contained no request before the response.
type Message struct {
	Request  *Request
	Response *Response
}

// Parser walks the messages of a stream.
type Parser struct {
	r              *stream.Reader
	request        *Request
	MaxRequestBody int64
}

// NewParser creates a parser starting at the current position of src.
func NewParser(src io.ReadSeeker) (*Parser, error) {
	r, err := stream.NewReader(src)
	if err != nil {
		return nil, err
	}
	return &Parser{r: r, MaxRequestBody: DefaultMaxRequestBody}, nil
}

// Identify looks for a request or status line in the next 1024 bytes and
// positions the parser at its start.
func (p *Parser) Identify() (bool, error) {
	head, err := p.r.Peek(identifyWindow)
	if err != nil {
		return false, err
	}

	start := -1
	for _, re := range []*regexp.Regexp{requestLine, statusLine} {
		if loc := re.FindIndex(head); loc != nil && (start < 0 || loc[0] < start) {
			start = loc[0]
		}
	}
	if start < 0 {
		return false, nil
	}
	_, err = p.r.Discard(int64(start))
	return err == nil, err
}

// Next returns the next response. It returns io.EOF at the end of the
// stream.
func (p *Parser) Next() (*Message, error) {
	for {
		offset := p.r.Offset()
		line, err := p.r.ReadLine()
		if err != nil {
			return nil, err
		}

		if m := requestLine.FindStringSubmatch(line); m != nil {
			req := &Request{Method: strings.ToUpper(m[1]), URI: m[2], Offset: offset}
			if req.Header, err = p.readHeaders(); err != nil {
				return nil, err
			}
			if req.Body, err = p.readRequestBody(req.Header); err != nil {
				return nil, err
			}
			p.request = req
			continue
		}

		if m := statusLine.FindStringSubmatch(line); m != nil {
			code, _ := strconv.Atoi(m[1])
			resp := &Response{StatusCode: code, Offset: offset}
			if resp.Header, err = p.readHeaders(); err != nil {
				return nil, err
			}
			resp.BodyOffset = p.r.Offset()
			if p.hasBody(resp) {
				if err := p.skipResponseBody(resp.Header); err != nil {
					return nil, err
				}
			}
			resp.BodyLength = p.r.Offset() - resp.BodyOffset

			msg := &Message{Request: p.request, Response: resp}
			p.request = nil
			return msg, nil
		}
	}
}

func (p *Parser) readHeaders() (Header, error) {
	header := Header{}
	for {
		line, err := p.r.ReadLine()
		if err == io.EOF || (err == nil && line == "") {
			return header, nil
		}
		if err != nil {
			return nil, err
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 { //nolint:gomnd
			continue
		}
		header[strings.ToLower(strings.TrimSpace(parts[0]))] = strings.TrimSpace(parts[1])
	}
}

func (p *Parser) hasBody(resp *Response) bool {
	if p.request != nil && p.request.Method == nethttp.MethodHead {
		return false
	}
	code := resp.StatusCode
	return !(code >= 100 && code < 200) && code != nethttp.StatusNoContent && code != nethttp.StatusNotModified
}

func (p *Parser) readRequestBody(header Header) ([]byte, error) {
	length, ok := contentLength(header)
	if ok {
		keep := length
		if keep > p.MaxRequestBody {
			keep = p.MaxRequestBody
		}
		body, err := p.r.ReadN(keep)
		if err != nil {
			return nil, err
		}
		_, err = p.r.Discard(length - keep)
		return body, err
	}
	if header.contains("transfer-encoding", "chunked") {
		return nil, p.skipChunks()
	}
	return nil, nil
}

func (p *Parser) skipResponseBody(header Header) error {
	if length, ok := contentLength(header); ok {
		_, err := p.r.Discard(length)
		return err
	}
	if header.contains("transfer-encoding", "chunked") {
		return p.skipChunks()
	}
	if header.contains("connection", "close") {
		_, err := io.Copy(io.Discard, p.r)
		return err
	}
	return nil
}

// skipChunks consumes a chunked body up to and including the zero chunk
// and a following blank line. A malformed size line ends the body.
func (p *Parser) skipChunks() error {
	for {
		mark := p.r.Offset()
		line, err := p.r.ReadLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		size, ok := chunkSize(line)
		if !ok {
			return p.r.Seek(mark)
		}
		if size == 0 {
			next, err := p.r.Peek(2) //nolint:gomnd
			if err != nil {
				return err
			}
			if string(next) == "\r\n" || (len(next) > 0 && next[0] == '\n') {
				_, err = p.r.ReadLine()
			}
			return err
		}
		if _, err := p.r.Discard(size); err != nil {
			return err
		}
		if _, err := p.r.ReadLine(); err != nil && err != io.EOF {
			return err
		}
	}
}

func contentLength(header Header) (int64, bool) {
	value, ok := header["content-length"]
	if !ok {
		return 0, false
	}
	length, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || length < 0 {
		return 0, false
	}
	return length, true
}

func chunkSize(line string) (int64, bool) {
	if i := strings.Index(line, ";"); i >= 0 {
		line = line[:i]
	}
	size, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
	if err != nil || size < 0 {
		return 0, false
	}
	return size, true
}

// Escape turns a request URI into a file name.
func Escape(uri string) string {
	return strings.ReplaceAll(path.Clean(uri), "/", "_")
}

// ParseDate parses the date formats seen in HTTP headers.
func ParseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := nethttp.ParseTime(s); err == nil {
		return t, true
	}
	if t, err := mail.ParseDate(s); err == nil {
		return t, true
	}
	return time.Time{}, false
}
