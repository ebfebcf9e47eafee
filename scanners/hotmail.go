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
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"

	"github.com/forensicanalysis/evidencefs/inode"
	"github.com/forensicanalysis/evidencefs/protocol/http"
	"github.com/forensicanalysis/evidencefs/scanner"
	"github.com/forensicanalysis/evidencefs/vfs"
	"github.com/forensicanalysis/evidencefs/vfs/drivers"
)

const (
	webmailTable   = "webmail_messages"
	hotmailService = "Hotmail Classic"
)

var webmailSchema = []string{
	`CREATE TABLE IF NOT EXISTS webmail_messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		inode      TEXT NOT NULL,
		service    TEXT,
		type       TEXT,
		sender     TEXT,
		recipient  TEXT,
		cc         TEXT,
		bcc        TEXT,
		subject    TEXT,
		message    TEXT,
		message_id TEXT,
		sent       INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS webmail_messages_inode ON webmail_messages (inode)`,
}

var (
	liveTitle       = regexp.MustCompile(`(?i)<title>\s*Windows Live`)
	editAreaScript  = regexp.MustCompile(`document\.getElementById\("fEditArea"\)\.innerHTML='((?:[^'\\]|\\.)*)'`)
	msgContainerJS  = regexp.MustCompile(`document\.getElementById\("MsgContainer"\)\.innerHTML='((?:[^'\\]|\\.)*)'`)
	sendParameters  = [][2]string{{"recipient", "fto"}, {"sender", "ffrom"}, {"cc", "fcc"}, {"bcc", "fbcc"}, {"subject", "fsubject"}, {"message", "fmessagebody"}}
	composeInputs   = [][2]string{{"recipient", "fto"}, {"cc", "fcc"}, {"bcc", "fbcc"}, {"subject", "fsubject"}}
	messageIDParams = []string{"kr", "d", "mid"}
)

// HotmailScanner extracts messages from Windows Live (Hotmail) pages: the
// mail listing, read and compose pages and mails sent with a form post.
// Every message is a row of webmail_messages, readable as t inode below
// the page.
type HotmailScanner struct {
	scanner.Base
}

func (s *HotmailScanner) Name() string { return "HotmailScanner" }

func (s *HotmailScanner) Prepare(ctx context.Context, env *scanner.Env) error {
	return env.Store().EnsureTable(ctx, webmailSchema...)
}

func (s *HotmailScanner) Reset(ctx context.Context, env *scanner.Env) error {
	if _, err := env.FS.RemoveDerived(ctx, 't'); err != nil {
		return err
	}
	return truncate(ctx, env.Store(), webmailTable)
}

func (s *HotmailScanner) NewScan(_ context.Context, env *scanner.Env, in inode.Inode) (scanner.Scan, error) {
	return &hotmailScan{env: env, in: in}, nil
}

type hotmailScan struct {
	env    *scanner.Env
	in     inode.Inode
	root   *html.Node
	params map[string]string
}

// webmail is a row of webmail_messages.
type webmail map[string]interface{}

func (s *hotmailScan) ExternalProcess(ctx context.Context, f vfs.File) error {
	ok, err := hasType(ctx, s.env, s.in, "text/html")
	if err != nil || !ok {
		return err
	}
	head := make([]byte, 1024)
	n, err := f.ReadAt(head, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if !liveTitle.Match(head[:n]) {
		return nil
	}

	log.Debug().Str("inode", s.in.String()).Msg("opening page for Hotmail processing")
	if s.root, err = html.Parse(io.NewSectionReader(f, 0, f.Size())); err != nil {
		return errors.Wrap(err, "parse page")
	}
	if s.params, err = Parameters(ctx, s.env.Store(), s.in); err != nil {
		return err
	}

	for _, process := range []func() webmail{s.sendMessage, s.editRead, s.readMessage, s.listing} {
		if msg := process(); msg != nil {
			if err := s.insert(ctx, msg); err != nil {
				return err
			}
		}
	}
	return nil
}

// sendMessage looks at the form a mail was sent with.
func (s *hotmailScan) sendMessage() webmail {
	msg := webmail{"type": "Edit Sent"}
	for _, field := range sendParameters {
		if value, ok := s.params[field[1]]; ok {
			msg[field[0]] = value
		}
	}
	if len(msg) < 3 { //nolint:gomnd
		return nil
	}
	return msg
}

// editRead reads the compose page.
func (s *hotmailScan) editRead() webmail {
	header := find(s.root, "table", map[string]string{"class": "ComposeHeader"})
	if header == nil {
		return nil
	}
	msg := webmail{"type": "Edit Read"}

	if from := find(header, "select", map[string]string{"name": "ffrom"}); from != nil {
		if option := find(from, "option", map[string]string{"selected": ""}); option != nil {
			msg["sender"], _ = attr(option, "value")
		}
	}
	for _, field := range composeInputs {
		if input := find(header, "input", map[string]string{"name": field[1]}); input != nil {
			msg[field[0]], _ = attr(input, "value")
		}
	}

	var message strings.Builder
	if div := find(s.root, "div", map[string]string{"id": "EditArea"}); div != nil {
		message.WriteString(innerHTML(div))
	}
	message.WriteString(s.script(editAreaScript))
	msg["message"] = message.String()
	return msg
}

// readMessage reads the page showing a single mail.
func (s *hotmailScan) readMessage() webmail {
	container := find(s.root, "div", map[string]string{"class": "ReadMsgContainer"})
	if container == nil {
		return nil
	}
	msg := webmail{"type": "Read"}

	if subject := find(container, "td", map[string]string{"class": "ReadMsgSubject"}); subject != nil {
		msg["subject"] = text(subject)
	}

	// header cells are followed by their value
	next := ""
	for _, td := range findAll(container, "td", nil) {
		data := text(td)
		if next != "" {
			msg[next] = data
			next = ""
		}
		switch lower := strings.ToLower(data); {
		case strings.HasPrefix(lower, "from:"):
			next = "sender"
		case strings.HasPrefix(lower, "to:"):
			next = "recipient"
		case strings.HasPrefix(lower, "sent:"):
			next = "sent"
		}
	}
	if sent, ok := msg["sent"].(string); ok {
		if t, ok := http.ParseDate(sent); ok {
			msg["sent"] = t
		} else {
			delete(msg, "sent")
		}
	}

	msg["message"] = s.script(msgContainerJS)
	return msg
}

// listing records the mail listing of a folder.
func (s *hotmailScan) listing() webmail {
	table := find(s.root, "table", map[string]string{"class": "ItemListContentTable InboxTable"})
	if table == nil {
		return nil
	}
	msg := webmail{"type": "Listed", "message": outerHTML(table)}

	if folder := find(s.root, "li", map[string]string{"class": "FolderItemSelected"}); folder != nil {
		if span := find(folder, "span", nil); span != nil {
			msg["sender"] = text(span)
		}
	}
	if me := find(s.root, "a", map[string]string{"class": "uxp_hdr_meLink"}); me != nil {
		msg["recipient"] = text(me)
	}
	return msg
}

// script returns the first string a script assigns with re.
func (s *hotmailScan) script(re *regexp.Regexp) string {
	for _, script := range findAll(s.root, "script", nil) {
		if m := re.FindStringSubmatch(rawText(script)); m != nil {
			return unescapeJS(m[1])
		}
	}
	return ""
}

func (s *hotmailScan) insert(ctx context.Context, msg webmail) error {
	if message, _ := msg["message"].(string); message == "" {
		return nil
	}
	msg["inode"] = s.in.String()
	msg["service"] = hotmailService
	for _, key := range messageIDParams {
		if id, ok := s.params[key]; ok {
			msg["message_id"] = id
			break
		}
	}

	id, err := s.env.Store().Insert(ctx, webmailTable, msg)
	if err != nil {
		return err
	}

	address := drivers.TableAddress{Table: webmailTable, Key: "id", Value: strconv.FormatInt(id, 10), Column: "message"}
	child, err := s.env.FS.CreateVirtualInode(ctx, s.in, inode.Inode{address.Segment()}, fmt.Sprintf("Message_%d", id), map[string]interface{}{
		"webmail": map[string]interface{}{"service": hotmailService, "type": msg["type"]},
	})
	if err != nil {
		return err
	}
	s.env.Submit(child)
	return nil
}

func (s *hotmailScan) Finish(context.Context) error { return nil }

// unescapeJS decodes the escapes of a single quoted JavaScript string.
func unescapeJS(s string) string {
	var b strings.Builder
	for len(s) > 0 {
		c, _, tail, err := strconv.UnquoteChar(s, '\'')
		if err != nil {
			if s[0] == '\\' && len(s) > 1 {
				b.WriteByte(s[1])
				s = s[2:]
				continue
			}
			b.WriteByte(s[0])
			s = s[1:]
			continue
		}
		b.WriteRune(c)
		s = tail
	}
	return b.String()
}
