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

package scanners_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forensicanalysis/evidencefs"
	"github.com/forensicanalysis/evidencefs/inode"
	"github.com/forensicanalysis/evidencefs/scanner"
	"github.com/forensicanalysis/evidencefs/scanners"
	"github.com/forensicanalysis/evidencefs/vfs"
	"github.com/forensicanalysis/evidencefs/vfs/drivers"
)

var captured = time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)

func setup(t *testing.T) *vfs.FileSystem {
	t.Helper()
	store, err := evidencefs.New(filepath.Join(t.TempDir(), "case.evidence"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return vfs.New(store, drivers.NewRegistry())
}

func add(t *testing.T, fsys *vfs.FileSystem, name string, data []byte) inode.Inode {
	t.Helper()
	entry, err := fsys.AddFile(context.Background(), name, bytes.NewReader(data), captured)
	require.NoError(t, err)
	return entry.Inode
}

func pipeline(t *testing.T, fsys *vfs.FileSystem, names ...string) *scanner.Pipeline {
	t.Helper()
	reg, err := scanners.NewRegistry(scanners.DefaultOptions)
	require.NoError(t, err)
	factories, err := reg.Factories(names)
	require.NoError(t, err)
	return scanner.New(fsys, "", factories)
}

func scanFS(t *testing.T, fsys *vfs.FileSystem, names ...string) scanner.Summary {
	t.Helper()
	summary, err := pipeline(t, fsys, names...).ScanFS(context.Background())
	require.NoError(t, err)
	return summary
}

func rows(t *testing.T, fsys *vfs.FileSystem, query squirrel.SelectBuilder) []evidencefs.Row {
	t.Helper()
	r, err := fsys.Store().Query(context.Background(), query)
	require.NoError(t, err)
	return r
}

func read(t *testing.T, fsys *vfs.FileSystem, p string) string {
	t.Helper()
	f, err := fsys.Open(context.Background(), p, nil)
	require.NoError(t, err)
	defer f.Close()
	b, err := io.ReadAll(f)
	require.NoError(t, err)
	return string(b)
}

func exists(t *testing.T, fsys *vfs.FileSystem, p string) bool {
	t.Helper()
	ok, err := fsys.Exists(context.Background(), p)
	require.NoError(t, err)
	return ok
}

func TestRegister(t *testing.T) {
	reg, err := scanners.NewRegistry(scanners.DefaultOptions)
	require.NoError(t, err)

	all, err := reg.Glob("all")
	require.NoError(t, err)
	assert.Equal(t, []string{"HTTPScanner", "HashScan", "HotmailScanner", "RFC2822", "SMTPScanner", "TypeScan", "VirScan", "ZipScan"}, all)

	defaults, err := reg.Glob("default")
	require.NoError(t, err)
	assert.NotContains(t, defaults, "VirScan")

	specs, err := reg.Resolve([]string{"HotmailScanner"})
	require.NoError(t, err)
	var names []string
	for _, spec := range specs {
		names = append(names, spec.Name)
	}
	assert.Equal(t, []string{"HTTPScanner", "TypeScan", "HotmailScanner"}, names)

	assert.Error(t, scanners.Register(reg, scanners.DefaultOptions))
	_, err = scanners.NewRegistry(scanners.Options{Signatures: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestTypeAndHash(t *testing.T) {
	fsys := setup(t)
	in := add(t, fsys, "/evidence/page.html", []byte("<html><body>hello</body></html>"))
	empty := add(t, fsys, "/evidence/empty", nil)

	summary := scanFS(t, fsys, "HashScan", "TypeScan")
	assert.Equal(t, scanner.Summary{Files: 2}, summary)

	typ, err := scanners.Type(context.Background(), fsys.Store(), in)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(typ, "text/html"), typ)

	typ, err = scanners.Type(context.Background(), fsys.Store(), empty)
	require.NoError(t, err)
	assert.NotEmpty(t, typ)

	hashes := rows(t, fsys, squirrel.Select("*").From("hash").Where(squirrel.Eq{"inode": empty.String()}))
	require.Len(t, hashes, 1)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", hashes[0].Text("md5"))
	assert.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", hashes[0].Text("sha1"))
	assert.Equal(t, "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262", hashes[0].Text("blake3"))

	// a second run replaces the rows
	scanFS(t, fsys, "HashScan", "TypeScan")
	assert.Len(t, rows(t, fsys, squirrel.Select("*").From("hash")), 2)
	assert.Len(t, rows(t, fsys, squirrel.Select("*").From("type")), 2)
}

const eicar = `X5O!P%@AP[4\PZX54(P^)7CC)7}$EICAR-STANDARD-ANTIVIRUS-TEST-FILE!$H+H*`

func TestVirScan(t *testing.T) {
	fsys := setup(t)
	infected := add(t, fsys, "/evidence/infected.com", []byte(strings.Repeat("x", 50)+eicar+strings.Repeat("y", 50)))
	add(t, fsys, "/evidence/clean.txt", []byte("nothing to see"))

	p := pipeline(t, fsys, "VirScan")
	// the signature crosses buffer boundaries
	p.BufferSize = 16
	_, err := p.ScanFS(context.Background())
	require.NoError(t, err)

	found := rows(t, fsys, squirrel.Select("*").From("virus"))
	require.Len(t, found, 1)
	assert.Equal(t, infected.String(), found[0].Text("inode"))
	assert.Equal(t, "EICAR-Test-File", found[0].Text("virus"))

	require.NoError(t, p.Reset(context.Background()))
	assert.Empty(t, rows(t, fsys, squirrel.Select("*").From("virus")))
}

func TestParseSignatures(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		data    string
		want    string
		wantErr bool
	}{
		{"pattern", "signatures:\n  - name: A\n    pattern: abc\n", "xxabcxx", "A", false},
		{"hex", "signatures:\n  - name: B\n    hex: '616263'\n", "abc", "B", false},
		{"first match", "signatures:\n  - name: A\n    pattern: b\n  - name: B\n    pattern: a\n", "ab", "A", false},
		{"no match", "signatures:\n  - name: A\n    pattern: abc\n", "ab", "", false},
		{"bad hex", "signatures:\n  - name: B\n    hex: zz\n", "", "", true},
		{"empty", "signatures:\n  - name: B\n", "", "", true},
		{"no name", "signatures:\n  - pattern: x\n", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := scanners.ParseSignatures([]byte(tt.yaml))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Match([]byte(tt.data)))
		})
	}
}

func zipArchive(t *testing.T, files map[string]string, order ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range order {
		f, err := w.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: captured})
		require.NoError(t, err)
		_, err = f.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestZipScan(t *testing.T) {
	fsys := setup(t)
	ctx := context.Background()
	archive := add(t, fsys, "/evidence/archive.zip", zipArchive(t, map[string]string{
		"docs/a.txt":    "first",
		"b.txt":         "second",
		"../escape.txt": "third",
	}, "docs/a.txt", "b.txt", "../escape.txt"))

	scanFS(t, fsys, "ZipScan", "HashScan")

	assert.Equal(t, "first", read(t, fsys, "/evidence/archive.zip/docs/a.txt"))
	assert.Equal(t, "second", read(t, fsys, "/evidence/archive.zip/b.txt"))
	assert.Equal(t, "third", read(t, fsys, "/evidence/archive.zip/escape.txt"))

	entry, err := fsys.Lookup(ctx, "/evidence/archive.zip/b.txt")
	require.NoError(t, err)
	assert.Equal(t, archive.Append(inode.Index('Z', 1)), entry.Inode)

	// derived files went through the pipeline as well
	hashes := rows(t, fsys, squirrel.Select("inode").From("hash"))
	assert.Len(t, hashes, 4)

	info, err := fsys.Istat(ctx, entry.Inode)
	require.NoError(t, err)
	assert.Equal(t, int64(6), info.Size)
	assert.Equal(t, captured, info.Mtime)

	p := pipeline(t, fsys, "ZipScan")
	require.NoError(t, p.Reset(ctx))
	assert.False(t, exists(t, fsys, "/evidence/archive.zip/b.txt"))
	assert.True(t, exists(t, fsys, "/evidence/archive.zip"))
}

const mail = "Date: Mon, 2 Jan 2006 15:04:05 +0000\r\n" +
	"From: Alice <alice@example.com>\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: =?utf-8?q?caf=C3=A9?=\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=XX\r\n" +
	"\r\n" +
	"--XX\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"hello bob\r\n" +
	"--XX\r\n" +
	"Content-Type: application/octet-stream; name=\"data.bin\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"aGVsbG8gd29ybGQ=\r\n" +
	"--XX--\r\n"

func TestRFC2822(t *testing.T) {
	fsys := setup(t)
	in := add(t, fsys, "/mail/message.eml", []byte(mail))
	add(t, fsys, "/mail/notes.txt", []byte("Subject: no mail\r\n\r\njust text"))

	scanFS(t, fsys, "RFC2822")

	emails := rows(t, fsys, squirrel.Select("*").From("email"))
	require.Len(t, emails, 1)
	assert.Equal(t, in.String(), emails[0].Text("inode"))
	assert.Equal(t, "café", emails[0].Text("subject"))
	assert.Equal(t, "Alice <alice@example.com>", emails[0].Text("sender"))
	assert.Equal(t, time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC).Unix(), emails[0].Int("date"))

	assert.Equal(t, "hello bob", strings.TrimSpace(read(t, fsys, "/mail/message.eml/Attachment 0")))
	assert.Equal(t, "hello world", read(t, fsys, "/mail/message.eml/data.bin"))

	entry, err := fsys.Lookup(context.Background(), "/mail/message.eml/data.bin")
	require.NoError(t, err)
	assert.Equal(t, in.Append(inode.Index('m', 1)), entry.Inode)
}

func connection(t *testing.T, fsys *vfs.FileSystem, in inode.Inode, port int) {
	t.Helper()
	require.NoError(t, scanners.RegisterConnection(context.Background(), fsys.Store(), &scanners.Connection{
		Inode:    in,
		SrcIP:    "10.0.0.1",
		SrcPort:  49152,
		DestIP:   "10.0.0.2",
		DestPort: port,
		Time:     captured,
	}))
}

const httpStream = "GET /a HTTP/1.1\r\nHost: h\r\n\r\n" +
	"HTTP/1.1 200 OK\r\nContent-Length: 5\r\nDate: Tue, 15 Nov 1994 08:12:31 GMT\r\n\r\nhello" +
	"POST /b?x=1 HTTP/1.1\r\nHost: h\r\nReferer: http://h/a\r\nContent-Type: application/x-www-form-urlencoded\r\nContent-Length: 7\r\n\r\nfto=bob" +
	"HTTP/1.1 302 Found\r\nContent-Length: 0\r\n\r\n" +
	"GET /c HTTP/1.1\r\nHost: h\r\nReferer: http://other/x\r\nUser-Agent: test\r\n\r\n" +
	"HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nworld\r\n0\r\n\r\n"

func TestLookupConnection(t *testing.T) {
	fsys := setup(t)
	ctx := context.Background()
	in := add(t, fsys, "/streams/1", []byte(httpStream))

	conn, err := scanners.LookupConnection(ctx, fsys.Store(), in)
	require.NoError(t, err)
	assert.Nil(t, conn)

	connection(t, fsys, in, 80)
	connection(t, fsys, in, 8080)
	conn, err = scanners.LookupConnection(ctx, fsys.Store(), in)
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, 8080, conn.DestPort)
	assert.Equal(t, "10.0.0.1", conn.SrcIP)
	assert.Equal(t, captured, conn.Time)

	err = scanners.RegisterConnection(ctx, fsys.Store(), &scanners.Connection{})
	assert.ErrorIs(t, err, evidencefs.ErrBadArgument)
}

func TestHTTPScanner(t *testing.T) {
	fsys := setup(t)
	ctx := context.Background()
	stream := add(t, fsys, "/streams/1", []byte(httpStream))
	add(t, fsys, "/streams/2", []byte(httpStream))
	connection(t, fsys, stream, 80)

	scanFS(t, fsys, "HTTPScanner", "TypeScan")

	hello := int64(strings.Index(httpStream, "hello"))
	page := stream.Append(inode.Offset(hello, 5))
	assert.Equal(t, "hello", read(t, fsys, "/streams/HTTP/1994-11-15/_a"))
	assert.Equal(t, "world", read(t, fsys, "/streams/HTTP/2020-01-02/_c"))

	entry, err := fsys.Lookup(ctx, "/streams/HTTP/2020-01-02/_c")
	require.NoError(t, err)
	chunked := int64(strings.Index(httpStream, "5\r\nworld"))
	assert.Equal(t, stream.Append(inode.Offset(chunked, int64(len(httpStream))-chunked), inode.Index('c', 0)), entry.Inode)

	requests := rows(t, fsys, squirrel.Select("*").From("http").OrderBy("id"))
	require.Len(t, requests, 4)
	assert.Equal(t, page.String(), requests[0].Text("inode"))
	assert.Equal(t, "http://h/a", requests[0].Text("url"))
	assert.Equal(t, int64(0), requests[0].Int("parent"))
	assert.Equal(t, "text/html", requests[0].Text("content_type"))
	assert.Equal(t, "-", requests[0].Text("useragent"))

	assert.Equal(t, "", requests[1].Text("inode"))
	assert.Equal(t, "http://h/b?x=1", requests[1].Text("url"))
	assert.Equal(t, "POST", requests[1].Text("method"))
	assert.Equal(t, int64(302), requests[1].Int("status"))
	assert.Equal(t, requests[0].Int("id"), requests[1].Int("parent"))

	// unknown referrers become pseudo requests
	assert.Equal(t, "http://other/x", requests[2].Text("url"))
	assert.Equal(t, "other", requests[2].Text("host"))
	assert.Equal(t, requests[2].Int("id"), requests[3].Int("parent"))
	assert.Equal(t, "test", requests[3].Text("useragent"))

	params := rows(t, fsys, squirrel.Select("name", "value").From("http_parameters").OrderBy("id"))
	require.Len(t, params, 2)
	assert.Equal(t, "fto", params[0].Text("name"))
	assert.Equal(t, "bob", params[0].Text("value"))
	assert.Equal(t, "x", params[1].Text("name"))

	details := rows(t, fsys, squirrel.Select("*").From("connection_details"))
	assert.Len(t, details, 3)
	assert.Equal(t, int64(80), details[0].Int("dest_port"))

	// scanning again replaces the rows of the stream
	scanFS(t, fsys, "HTTPScanner")
	assert.Len(t, rows(t, fsys, squirrel.Select("*").From("http")), 4)
	assert.Len(t, rows(t, fsys, squirrel.Select("*").From("http_parameters")), 2)
	assert.Len(t, rows(t, fsys, squirrel.Select("*").From("connection_details")), 3)
	assert.Len(t, rows(t, fsys, squirrel.Select("*").From("http").Where(squirrel.Eq{"stream": stream.String()})), 3)

	// derived responses are typed
	typ, err := scanners.Type(ctx, fsys.Store(), page)
	require.NoError(t, err)
	assert.NotEmpty(t, typ)

	p := pipeline(t, fsys, "HTTPScanner")
	require.NoError(t, p.Reset(ctx))
	assert.False(t, exists(t, fsys, "/streams/HTTP"))
	assert.True(t, exists(t, fsys, "/streams/1"))
	assert.Empty(t, rows(t, fsys, squirrel.Select("*").From("http")))
}

func TestSMTPScanner(t *testing.T) {
	fsys := setup(t)
	ctx := context.Background()
	session := "220 mx ESMTP\r\n" +
		"HELO client\r\n250 mx\r\n" +
		"MAIL FROM:<alice@example.com>\r\n250 ok\r\n" +
		"RCPT TO:<bob@example.com>\r\n250 ok\r\n" +
		"RCPT TO:<carol@example.com>\r\n250 ok\r\n" +
		"DATA\r\n354 go ahead\r\n" +
		mail +
		".\r\n250 queued\r\n" +
		"QUIT\r\n221 bye\r\n"
	stream := add(t, fsys, "/streams/smtp", []byte(session))
	connection(t, fsys, stream, 25)

	scanFS(t, fsys, "SMTPScanner", "RFC2822")

	assert.Equal(t, mail, read(t, fsys, "/streams/SMTP/Message_1"))

	offset := int64(strings.Index(session, mail))
	message := stream.Append(inode.Offset(offset, int64(len(mail))))
	smtp := rows(t, fsys, squirrel.Select("*").From("smtp"))
	require.Len(t, smtp, 1)
	assert.Equal(t, message.String(), smtp[0].Text("inode"))
	assert.Equal(t, "alice@example.com", smtp[0].Text("mail_from"))
	assert.Equal(t, "bob@example.com, carol@example.com", smtp[0].Text("rcpt_to"))

	// the mail was handed on to the mail scanner
	emails := rows(t, fsys, squirrel.Select("*").From("email"))
	require.Len(t, emails, 1)
	assert.Equal(t, message.String(), emails[0].Text("inode"))
	assert.Equal(t, "hello world", read(t, fsys, "/streams/SMTP/Message_1/data.bin"))

	p := pipeline(t, fsys, "SMTPScanner")
	require.NoError(t, p.Reset(ctx))
	assert.False(t, exists(t, fsys, "/streams/SMTP/Message_1"))
	assert.Empty(t, rows(t, fsys, squirrel.Select("*").From("smtp")))
}

func TestSMTPScanner_OtherPort(t *testing.T) {
	fsys := setup(t)
	stream := add(t, fsys, "/streams/smtp", []byte("DATA\r\n354 go\r\nbody\r\n.\r\n"))
	connection(t, fsys, stream, 2525)

	scanFS(t, fsys, "SMTPScanner")
	assert.Empty(t, rows(t, fsys, squirrel.Select("*").From("smtp")))
}

const readPage = `<html><head><title> Windows Live Hotmail</title></head><body>
<div class="ReadMsgContainer"><table>
<tr><td class="ReadMsgSubject">Lunch</td></tr>
<tr><td>From:</td><td>alice@example.com</td></tr>
<tr><td>To:</td><td>bob@example.com</td></tr>
<tr><td>Sent:</td><td>Mon, 2 Jan 2006 15:04:05 +0000</td></tr>
</table></div>
<script>document.getElementById("MsgContainer").innerHTML='<p>See you at noon, it\'s on me</p>';</script>
</body></html>`

const listingPage = `<html><head><title>Windows Live Hotmail - Inbox</title></head><body>
<ul><li class="FolderItemNormal FolderItemSelected"><a href="#"><span>Inbox</span></a></li></ul>
<a class="uxp_hdr_meLink">bob@example.com</a>
<table class="ItemListContentTable InboxTable"><tr><td>alice</td><td>Lunch</td></tr></table>
</body></html>`

func TestHotmailScanner(t *testing.T) {
	fsys := setup(t)
	ctx := context.Background()
	read1 := add(t, fsys, "/pages/read.html", []byte(readPage))
	add(t, fsys, "/pages/inbox.html", []byte(listingPage))
	add(t, fsys, "/pages/other.html", []byte("<html><head><title>Other</title></head></html>"))

	scanFS(t, fsys, "HotmailScanner")

	assert.Len(t, rows(t, fsys, squirrel.Select("*").From("webmail_messages")), 2)

	shown := rows(t, fsys, squirrel.Select("*").From("webmail_messages").Where(squirrel.Eq{"type": "Read"}))
	require.Len(t, shown, 1)
	msg := shown[0]
	assert.Equal(t, read1.String(), msg.Text("inode"))
	assert.Equal(t, "Read", msg.Text("type"))
	assert.Equal(t, "Hotmail Classic", msg.Text("service"))
	assert.Equal(t, "Lunch", msg.Text("subject"))
	assert.Equal(t, "alice@example.com", msg.Text("sender"))
	assert.Equal(t, "bob@example.com", msg.Text("recipient"))
	assert.Equal(t, time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC).Unix(), msg.Int("sent"))
	assert.Equal(t, "<p>See you at noon, it's on me</p>", msg.Text("message"))

	listed := rows(t, fsys, squirrel.Select("*").From("webmail_messages").Where(squirrel.Eq{"type": "Listed"}))
	require.Len(t, listed, 1)
	listing := listed[0]
	assert.Equal(t, "Listed", listing.Text("type"))
	assert.Equal(t, "Inbox", listing.Text("sender"))
	assert.Equal(t, "bob@example.com", listing.Text("recipient"))
	assert.Contains(t, listing.Text("message"), "InboxTable")

	child := fmt.Sprintf("/pages/read.html/Message_%d", msg.Int("id"))
	assert.Equal(t, "<p>See you at noon, it's on me</p>", read(t, fsys, child))

	entry, err := fsys.Lookup(ctx, child)
	require.NoError(t, err)
	assert.Equal(t, read1.Append(drivers.TableAddress{
		Table: "webmail_messages", Key: "id", Value: fmt.Sprint(msg.Int("id")), Column: "message",
	}.Segment()), entry.Inode)

	p := pipeline(t, fsys, "HotmailScanner")
	require.NoError(t, p.Reset(ctx))
	assert.False(t, exists(t, fsys, child))
	assert.Empty(t, rows(t, fsys, squirrel.Select("*").From("webmail_messages")))
}

func TestHotmailScanner_SentForm(t *testing.T) {
	fsys := setup(t)
	stream := "POST /mail/SendMessageLight.aspx HTTP/1.1\r\nHost: mail.live.com\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\nContent-Length: 63\r\n\r\n" +
		"fTo=bob%40example.com&fSubject=hi&fMessageBody=see+you&kr=abc12" +
		"HTTP/1.1 200 OK\r\nContent-Type: text/html\r\nContent-Length: 64\r\n\r\n" +
		"<html><head><title> Windows Live Hotmail</title></head></html>\r\n"
	in := add(t, fsys, "/streams/live", []byte(stream))
	connection(t, fsys, in, 80)

	scanFS(t, fsys, "HotmailScanner")

	messages := rows(t, fsys, squirrel.Select("*").From("webmail_messages"))
	require.Len(t, messages, 1)
	assert.Equal(t, "Edit Sent", messages[0].Text("type"))
	assert.Equal(t, "bob@example.com", messages[0].Text("recipient"))
	assert.Equal(t, "hi", messages[0].Text("subject"))
	assert.Equal(t, "see you", messages[0].Text("message"))
	assert.Equal(t, "abc12", messages[0].Text("message_id"))
}
