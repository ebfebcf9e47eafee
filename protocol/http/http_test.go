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

package http

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseAll(t *testing.T, data string) []*Message {
	t.Helper()
	p, err := NewParser(strings.NewReader(data))
	require.NoError(t, err)

	var messages []*Message
	for {
		msg, err := p.Next()
		if err == io.EOF {
			return messages
		}
		require.NoError(t, err)
		messages = append(messages, msg)
	}
}

func TestParser_ContentLength(t *testing.T) {
	data := "GET /a HTTP/1.1\r\nHost: h\r\n\r\n" +
		"HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"

	messages := parseAll(t, data)
	require.Len(t, messages, 1)

	resp := messages[0].Response
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, int64(5), resp.BodyLength)
	assert.Equal(t, "hello", data[resp.BodyOffset:resp.BodyOffset+resp.BodyLength])
	assert.Equal(t, "http://h/a", messages[0].Request.URL("10.0.0.1"))
}

func TestParser_Sequence(t *testing.T) {
	data := "GET /1 HTTP/1.1\r\nHost: h\r\n\r\n" +
		"HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n" +
		"HEAD /2 HTTP/1.1\r\nHost: h\r\n\r\n" +
		"HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\n" +
		"POST /3?a=1 HTTP/1.1\r\nHost: h\r\nContent-Type: application/x-www-form-urlencoded\r\nContent-Length: 7\r\n\r\nb=2&c=3" +
		"HTTP/1.0 302 Found\r\nConnection: close\r\nContent-Encoding: gzip\r\n\r\nrest of stream"

	messages := parseAll(t, data)
	require.Len(t, messages, 3)

	chunked := messages[0].Response
	assert.True(t, chunked.Chunked())
	assert.Equal(t, "5\r\nhello\r\n0\r\n\r\n", data[chunked.BodyOffset:chunked.BodyOffset+chunked.BodyLength])

	assert.Equal(t, "HEAD", messages[1].Request.Method)
	assert.Equal(t, int64(0), messages[1].Response.BodyLength)

	last := messages[2]
	assert.True(t, last.Response.Gzip())
	assert.Equal(t, "rest of stream", data[last.Response.BodyOffset:])
	params, err := last.Request.Parameters()
	require.NoError(t, err)
	assert.Equal(t, "1", params.Get("a"))
	assert.Equal(t, "2", params.Get("b"))
	assert.Equal(t, "3", params.Get("c"))
}

func TestParser_ConnectionCloseOnRequest(t *testing.T) {
	data := "GET /a HTTP/1.1\r\nHost: h\r\nConnection: close\r\n\r\n" +
		"HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"

	messages := parseAll(t, data)
	require.Len(t, messages, 1)
	assert.Equal(t, "/a", messages[0].Request.URI)
}

func TestParser_Identify(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		want   bool
		offset int64
	}{
		{"request", "GET / HTTP/1.1\r\n\r\n", true, 0},
		{"resync", "ata of a previous body\r\nHTTP/1.1 404 Not Found\r\n\r\n", true, 24},
		{"no http", "SSH-2.0-OpenSSH_8.0\r\n", false, 0},
		{"beyond window", strings.Repeat("x", 2000) + "GET / HTTP/1.1\r\n", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewParser(strings.NewReader(tt.data))
			require.NoError(t, err)
			got, err := p.Identify()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.offset, p.r.Offset())
		})
	}
}

func TestParser_NoRequest(t *testing.T) {
	messages := parseAll(t, "HTTP/1.1 200 OK\r\nContent-Length: 1\r\n\r\nx")
	require.Len(t, messages, 1)
	assert.Nil(t, messages[0].Request)
}

func TestDechunk(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"single", "5\r\nhello\r\n0\r\n\r\n", "hello"},
		{"multiple", "5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n", "hello world"},
		{"extension", "5;name=x\r\nhello\r\n0\r\n", "hello"},
		{"lost sync", "5\r\nhello\r\nzz\r\nmore", "hello"},
		{"truncated", "a\r\nhello", "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(Dechunk(strings.NewReader(tt.in)))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestEscape(t *testing.T) {
	assert.Equal(t, "_a_b.html", Escape("/a/b.html"))
	assert.Equal(t, "_a_c", Escape("/a/./b/../c"))
}

func TestParseDate(t *testing.T) {
	d, ok := ParseDate("Sun, 06 Nov 1994 08:49:37 GMT")
	require.True(t, ok)
	assert.Equal(t, 1994, d.Year())

	_, ok = ParseDate("yesterday")
	assert.False(t, ok)
}
