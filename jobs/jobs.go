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

// Package jobs distributes scan jobs to workers. A scan submits one job
// per inode under a common cookie and waits until all jobs of the cookie
// are consumed.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/qri-io/jsonschema"
	"github.com/rs/zerolog/log"
)

// ErrInvalidJob is returned for jobs that do not match the job schema.
var ErrInvalidJob = errors.New("invalid job")

const jobSchema = `{
	"$schema": "https://json-schema.org/draft/2019-09/schema#",
	"type": "object",
	"required": ["id", "cookie", "case", "inode"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"cookie": {"type": "string", "minLength": 1},
		"case": {"type": "string", "minLength": 1},
		"inode": {"type": "string", "pattern": "^[^|]+(\\|[^|]+)*$"},
		"scanners": {"type": "array", "items": {"type": "string", "minLength": 1}},
		"attempts": {"type": "integer", "minimum": 0}
	}
}`

var schema = func() *jsonschema.Schema {
	s := &jsonschema.Schema{}
	if err := json.Unmarshal([]byte(jobSchema), s); err != nil {
		panic(err)
	}
	return s
}()

// Job asks a worker to scan one inode of a case.
type Job struct {
	ID       string   `json:"id"`
	Cookie   string   `json:"cookie"`
	Case     string   `json:"case"`
	Inode    string   `json:"inode"`
	Scanners []string `json:"scanners,omitempty"`
	// Attempts counts the claims of the job that ran out of their lease.
	Attempts int `json:"attempts,omitempty"`
}

// DefaultAttempts is the number of lost claims after which a job is
// consumed without being scanned.
const DefaultAttempts = 3

// NewJob creates a job with a fresh id.
func NewJob(cookie, caseName, inode string, scanners []string) *Job {
	return &Job{ID: uuid.New().String(), Cookie: cookie, Case: caseName, Inode: inode, Scanners: scanners}
}

// Marshal validates the job and returns its payload.
func (j *Job) Marshal(ctx context.Context) ([]byte, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	if err := validate(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Unmarshal parses and validates a payload.
func Unmarshal(ctx context.Context, b []byte) (*Job, error) {
	if err := validate(ctx, b); err != nil {
		return nil, err
	}
	job := &Job{}
	if err := json.Unmarshal(b, job); err != nil {
		return nil, errors.Wrap(ErrInvalidJob, err.Error())
	}
	return job, nil
}

func validate(ctx context.Context, b []byte) error {
	errs, err := schema.ValidateBytes(ctx, b)
	if err != nil {
		return errors.Wrap(ErrInvalidJob, err.Error())
	}
	if len(errs) > 0 {
		return errors.Wrap(ErrInvalidJob, fmt.Sprintf("%s", errs[0]))
	}
	return nil
}

// Queue is a job queue shared by submitters and workers.
type Queue interface {
	// Push adds jobs, all of the same cookie.
	Push(ctx context.Context, jobs ...*Job) error
	// Pop claims the next job. It returns nil if the queue is empty.
	Pop(ctx context.Context) (*Job, error)
	// Done consumes a claimed job, whatever the outcome of the scan.
	Done(ctx context.Context, job *Job) error
	// Outstanding counts the jobs of a cookie that are not done.
	Outstanding(ctx context.Context, cookie string) (int64, error)
	Abort(ctx context.Context, cookie string) error
	Aborted(ctx context.Context, cookie string) (bool, error)
	// Reap puts jobs claimed longer than lease back into the queue. A job
	// that lost its claim maxAttempts times is consumed instead. It returns
	// the number of requeued and consumed jobs.
	Reap(ctx context.Context, lease time.Duration, maxAttempts int) (requeued, dropped int, err error)
	Close() error
}

// NewCookie returns a fresh cookie.
func NewCookie() string {
	return uuid.New().String()
}

// Submit pushes one job per inode under a new cookie.
func Submit(ctx context.Context, q Queue, caseName string, inodes []string, scanners []string) (string, error) {
	cookie := NewCookie()
	jobs := make([]*Job, 0, len(inodes))
	for _, in := range inodes {
		jobs = append(jobs, NewJob(cookie, caseName, in, scanners))
	}
	if len(jobs) == 0 {
		return cookie, nil
	}
	if err := q.Push(ctx, jobs...); err != nil {
		return "", err
	}
	log.Info().Str("cookie", cookie).Str("case", caseName).Int("jobs", len(jobs)).Msg("submitted scan")
	return cookie, nil
}

// WaitForScan polls until all jobs of cookie are consumed or ctx is done.
func WaitForScan(ctx context.Context, q Queue, cookie string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n, err := q.Outstanding(ctx, cookie)
		if err != nil {
			return err
		}
		if n <= 0 {
			log.Info().Str("cookie", cookie).Msg("scanning complete")
			return nil
		}
		log.Debug().Str("cookie", cookie).Int64("outstanding", n).Msg("waiting for scan")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
