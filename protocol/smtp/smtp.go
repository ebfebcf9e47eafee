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

// Package smtp recovers the messages sent in a reassembled SMTP session.
package smtp

import (
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/forensicanalysis/evidencefs/protocol/stream"
)

// Message is a mail transferred with DATA. Offset and Length span the raw
// message in the stream without the terminating "." line.
type Message struct {
	Index    int
	Offset   int64
	Length   int64
	MailFrom string
	RcptTo   []string
}

// Parser walks the commands of a session.
type Parser struct {
	r        *stream.Reader
	mailFrom string
	rcptTo   []string
	count    int
}

// NewParser creates a parser starting at the current position of src.
func NewParser(src io.ReadSeeker) (*Parser, error) {
	r, err := stream.NewReader(src)
	if err != nil {
		return nil, err
	}
	return &Parser{r: r}, nil
}

// Next returns the next message. It returns io.EOF at the end of the
// stream. Unknown commands are skipped.
func (p *Parser) Next() (*Message, error) {
	for {
		line, err := p.r.ReadLine()
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" || isResponse(line) {
			continue
		}

		command, args := split(line)
		switch command {
		case "HELO", "EHLO", "QUIT", "NOOP", "VRFY", "EXPN", "HELP", "AUTH", "STARTTLS":
			if _, err := p.readResponse(); err != nil {
				return nil, err
			}
		case "RSET":
			p.mailFrom, p.rcptTo = "", nil
			if _, err := p.readResponse(); err != nil {
				return nil, err
			}
		case "MAIL":
			p.mailFrom, p.rcptTo = address(args), nil
			if _, err := p.readResponse(); err != nil {
				return nil, err
			}
		case "RCPT":
			p.rcptTo = append(p.rcptTo, address(args))
			if _, err := p.readResponse(); err != nil {
				return nil, err
			}
		case "DATA":
			msg, err := p.data()
			if err != nil {
				return nil, err
			}
			if msg != nil {
				return msg, nil
			}
		default:
			log.Debug().Str("command", command).Msg("smtp command not implemented")
		}
	}
}

func (p *Parser) data() (*Message, error) {
	response, err := p.readResponse()
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(response, "3") {
		return nil, nil
	}

	start := p.r.Offset()
	end := start
	for {
		lineStart := p.r.Offset()
		line, err := p.r.ReadLine()
		if err == io.EOF {
			end = p.r.Offset()
			break
		}
		if err != nil {
			return nil, err
		}
		if line == "." {
			end = lineStart
			break
		}
	}

	p.count++
	msg := &Message{
		Index:    p.count,
		Offset:   start,
		Length:   end - start,
		MailFrom: p.mailFrom,
		RcptTo:   p.rcptTo,
	}
	p.mailFrom, p.rcptTo = "", nil
	return msg, nil
}

// readResponse reads a possibly multi line response. A line that is not a
// response puts the parser back in front of it.
func (p *Parser) readResponse() (string, error) {
	var response strings.Builder
	for {
		mark := p.r.Offset()
		line, err := p.r.ReadLine()
		if err == io.EOF {
			return response.String(), nil
		}
		if err != nil {
			return "", err
		}
		if !isResponse(line) {
			log.Debug().Str("line", line).Msg("smtp response expected, resynchronizing")
			return response.String(), p.r.Seek(mark)
		}
		response.WriteString(line)
		response.WriteString("\n")
		if len(line) == 3 || line[3] == ' ' {
			return response.String(), nil
		}
	}
}

func isResponse(line string) bool {
	if len(line) < 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if line[i] < '0' || line[i] > '9' {
			return false
		}
	}
	return len(line) == 3 || line[3] == ' ' || line[3] == '-'
}

func split(line string) (command, args string) {
	fields := strings.SplitN(line, ":", 2)
	words := strings.Fields(fields[0])
	if len(words) == 0 {
		return "", ""
	}
	command = strings.ToUpper(words[0])
	if len(fields) == 2 { //nolint:gomnd
		args = strings.TrimSpace(fields[1])
	}
	return command, args
}

func address(args string) string {
	if strings.HasPrefix(args, "<") {
		if i := strings.Index(args, ">"); i > 0 {
			return args[1:i]
		}
	}
	if i := strings.IndexByte(args, ' '); i > 0 {
		return args[:i]
	}
	return args
}
