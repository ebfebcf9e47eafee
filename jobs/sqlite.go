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

package jobs

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	sqlitePoolSize = 8
	busyTimeout    = 30 * time.Second
)

var queueSchema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id      TEXT PRIMARY KEY,
		cookie  TEXT NOT NULL,
		payload TEXT NOT NULL,
		token    TEXT,
		claimed  INTEGER,
		attempts INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS jobs_cookie ON jobs (cookie)`,
	`CREATE INDEX IF NOT EXISTS jobs_token ON jobs (token)`,
	`CREATE TABLE IF NOT EXISTS aborted (cookie TEXT PRIMARY KEY)`,
}

// SQLiteQueue is a queue in a SQLite database shared by processes on the
// same host.
type SQLiteQueue struct {
	pool *sqlitex.Pool
}

// OpenSQLiteQueue opens or creates the queue database at path.
func OpenSQLiteQueue(path string) (*SQLiteQueue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, err
	}
	pool, err := sqlitex.Open(path, 0, sqlitePoolSize)
	if err != nil {
		return nil, errors.Wrap(err, "open queue")
	}
	q := &SQLiteQueue{pool: pool}

	conn, put, err := q.conn(context.Background())
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	defer put()
	for _, stmt := range queueSchema {
		if err := sqlitex.ExecTransient(conn, stmt, nil); err != nil {
			_ = pool.Close()
			return nil, errors.Wrap(err, "create queue")
		}
	}
	return q, nil
}

func (q *SQLiteQueue) conn(ctx context.Context) (*sqlite.Conn, func(), error) {
	conn := q.pool.Get(ctx)
	if conn == nil {
		return nil, nil, errors.New("no queue connection available")
	}
	conn.SetBusyTimeout(busyTimeout)
	return conn, func() { q.pool.Put(conn) }, nil
}

func (q *SQLiteQueue) Push(ctx context.Context, jobs ...*Job) (err error) {
	conn, put, err := q.conn(ctx)
	if err != nil {
		return err
	}
	defer put()

	defer sqlitex.Save(conn)(&err)
	for _, job := range jobs {
		payload, err := job.Marshal(ctx)
		if err != nil {
			return err
		}
		err = sqlitex.Exec(conn, `INSERT INTO jobs (id, cookie, payload) VALUES (?, ?, ?)`, nil, job.ID, job.Cookie, string(payload))
		if err != nil {
			return errors.Wrap(err, "push")
		}
	}
	return nil
}

// Pop claims the oldest unclaimed job with a single UPDATE, concurrent
// workers can not claim the same job.
func (q *SQLiteQueue) Pop(ctx context.Context) (*Job, error) {
	conn, put, err := q.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer put()

	token := uuid.New().String()
	err = sqlitex.Exec(conn, `UPDATE jobs SET token = ?, claimed = ?
		WHERE rowid = (SELECT rowid FROM jobs WHERE token IS NULL ORDER BY rowid LIMIT 1)`,
		nil, token, time.Now().UnixNano())
	if err != nil {
		return nil, errors.Wrap(err, "claim")
	}
	if conn.Changes() == 0 {
		return nil, nil
	}

	var payload string
	var attempts int
	err = sqlitex.Exec(conn, `SELECT payload, attempts FROM jobs WHERE token = ?`, func(stmt *sqlite.Stmt) error {
		payload = stmt.ColumnText(0)
		attempts = stmt.ColumnInt(1)
		return nil
	}, token)
	if err != nil {
		return nil, errors.Wrap(err, "claim")
	}

	job, err := Unmarshal(ctx, []byte(payload))
	if err != nil {
		// a job that can not be dispatched is consumed right away
		_ = sqlitex.Exec(conn, `DELETE FROM jobs WHERE token = ?`, nil, token)
		return nil, err
	}
	job.Attempts = attempts
	return job, nil
}

// Done deletes the job by id, a late Done of a requeued job consumes the
// requeued copy.
func (q *SQLiteQueue) Done(ctx context.Context, job *Job) error {
	conn, put, err := q.conn(ctx)
	if err != nil {
		return err
	}
	defer put()
	return sqlitex.Exec(conn, `DELETE FROM jobs WHERE id = ?`, nil, job.ID)
}

func (q *SQLiteQueue) Outstanding(ctx context.Context, cookie string) (n int64, err error) {
	conn, put, err := q.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer put()
	err = sqlitex.Exec(conn, `SELECT COUNT(*) FROM jobs WHERE cookie = ?`, func(stmt *sqlite.Stmt) error {
		n = stmt.ColumnInt64(0)
		return nil
	}, cookie)
	return n, err
}

func (q *SQLiteQueue) Abort(ctx context.Context, cookie string) error {
	conn, put, err := q.conn(ctx)
	if err != nil {
		return err
	}
	defer put()
	return sqlitex.Exec(conn, `INSERT OR IGNORE INTO aborted (cookie) VALUES (?)`, nil, cookie)
}

func (q *SQLiteQueue) Aborted(ctx context.Context, cookie string) (aborted bool, err error) {
	conn, put, err := q.conn(ctx)
	if err != nil {
		return false, err
	}
	defer put()
	err = sqlitex.Exec(conn, `SELECT 1 FROM aborted WHERE cookie = ?`, func(*sqlite.Stmt) error {
		aborted = true
		return nil
	}, cookie)
	return aborted, err
}

func (q *SQLiteQueue) Reap(ctx context.Context, lease time.Duration, maxAttempts int) (requeued, dropped int, err error) {
	conn, put, err := q.conn(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer put()

	defer sqlitex.Save(conn)(&err)
	deadline := time.Now().Add(-lease).UnixNano()
	if maxAttempts > 0 {
		err = sqlitex.Exec(conn, `DELETE FROM jobs WHERE token IS NOT NULL AND claimed < ? AND attempts + 1 >= ?`,
			nil, deadline, maxAttempts)
		if err != nil {
			return 0, 0, errors.Wrap(err, "reap")
		}
		dropped = conn.Changes()
	}
	err = sqlitex.Exec(conn, `UPDATE jobs SET token = NULL, claimed = NULL, attempts = attempts + 1
		WHERE token IS NOT NULL AND claimed < ?`, nil, deadline)
	if err != nil {
		return 0, 0, errors.Wrap(err, "reap")
	}
	return conn.Changes(), dropped, nil
}

func (q *SQLiteQueue) Close() error {
	return q.pool.Close()
}
