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

// Package rfc2822 summarizes mail messages and enumerates their parts.
package rfc2822

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrNoDate is returned by Parse for messages without a parsable Date
// header. Such data is most likely not a mail message at all.
var ErrNoDate = errors.New("no date header")

var decoder = &mime.WordDecoder{}

// Message is a parsed mail message.
type Message struct {
	Date    time.Time
	From    string
	To      string
	Subject string

	msg *mail.Message
}

// Part is a leaf part of a message with transfer decoding applied.
type Part struct {
	Index       int
	Filename    string
	ContentType string
	Content     []byte
}

type header interface {
	Get(key string) string
}

// Parse reads the header of a message. The body is consumed by Walk.
func Parse(r io.Reader) (*Message, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return nil, errors.Wrap(err, "read message")
	}
	date, err := msg.Header.Date()
	if err != nil {
		return nil, ErrNoDate
	}
	return &Message{
		Date:    date,
		From:    decodeHeader(msg.Header.Get("From")),
		To:      decodeHeader(msg.Header.Get("To")),
		Subject: decodeHeader(msg.Header.Get("Subject")),
		msg:     msg,
	}, nil
}

// Walk calls fn for every leaf part in depth first order. Parts are
// numbered from zero. Walk can only be called once.
func (m *Message) Walk(fn func(*Part) error) error {
	count := 0
	return walk(m.msg.Header, m.msg.Body, &count, fn)
}

var errFound = errors.New("found")

// NthPart returns the leaf part with the given index. Unlike Parse it does
// not require a Date header.
func NthPart(r io.Reader, n int) (*Part, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return nil, errors.Wrap(err, "read message")
	}

	var found *Part
	count := 0
	err = walk(msg.Header, msg.Body, &count, func(part *Part) error {
		if part.Index == n {
			found = part
			return errFound
		}
		return nil
	})
	if found != nil {
		return found, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("message has %d parts", count)
}

func walk(h header, body io.Reader, count *int, fn func(*Part) error) error {
	mediaType, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		mediaType, params = "text/plain", map[string]string{}
	}

	if strings.HasPrefix(mediaType, "multipart/") && params["boundary"] != "" {
		mr := multipart.NewReader(body, params["boundary"])
		for {
			p, err := mr.NextRawPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return errors.Wrap(err, "next part")
			}
			if err := walk(p.Header, p, count, fn); err != nil {
				return err
			}
		}
	}

	content, err := decode(h.Get("Content-Transfer-Encoding"), body)
	if err != nil {
		return err
	}
	part := &Part{
		Index:       *count,
		Filename:    filename(h, params, *count),
		ContentType: mediaType,
		Content:     content,
	}
	*count++
	return fn(part)
}

func filename(h header, params map[string]string, n int) string {
	if _, dparams, err := mime.ParseMediaType(h.Get("Content-Disposition")); err == nil && dparams["filename"] != "" {
		return decodeHeader(dparams["filename"])
	}
	if params["name"] != "" {
		return decodeHeader(params["name"])
	}
	return fmt.Sprintf("Attachment %d", n)
}

// decode removes the transfer encoding. Undecodable content is returned
// as is.
func decode(encoding string, body io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.Wrap(err, "read part")
	}

	var r io.Reader
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, bytes.NewReader(raw))
	case "quoted-printable":
		r = quotedprintable.NewReader(bytes.NewReader(raw))
	default:
		return raw, nil
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return raw, nil //nolint:nilerr
	}
	return decoded, nil
}

func decodeHeader(s string) string {
	decoded, err := decoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

// LooksLikeMessage is a cheap check for a mail header at the start of
// data, used before attempting a full parse.
func LooksLikeMessage(data []byte) bool {
	head := data
	if len(head) > 4096 { //nolint:gomnd
		head = head[:4096]
	}
	end := bytes.Index(head, []byte("\n\n"))
	if i := bytes.Index(head, []byte("\r\n\r\n")); i >= 0 && (end < 0 || i < end) {
		end = i
	}
	if end >= 0 {
		head = head[:end]
	}

	seen := 0
	for _, line := range bytes.Split(head, []byte("\n")) {
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		switch strings.ToLower(string(bytes.TrimSpace(line[:colon]))) {
		case "date", "from", "to", "subject", "received", "message-id", "mime-version", "return-path":
			seen++
		}
	}
	return seen >= 2 //nolint:gomnd
}
