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
	"strconv"
	"time"

	"github.com/bsm/redislock"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

const (
	redisPrefix = "evidencefs:"
	abortTTL    = 24 * time.Hour
)

// popScript moves the head of the job list into the claimed set in one
// step. Ids whose payload is gone were consumed while queued.
var popScript = redis.NewScript(`
while true do
	local id = redis.call('LPOP', KEYS[1])
	if not id then
		return false
	end
	local payload = redis.call('HGET', KEYS[3], id)
	if payload then
		redis.call('ZADD', KEYS[2], ARGV[1], id)
		return payload
	end
end
`)

// doneScript consumes a job exactly once, whether it is claimed, was
// requeued by the reaper or is claimed again by another worker.
var doneScript = redis.NewScript(`
if redis.call('HDEL', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('LREM', KEYS[3], 0, ARGV[1])
redis.call('DECR', KEYS[4])
return 1
`)

// reapScript releases a stale claim. It returns 0 if the job was done in
// the meantime, 1 if it was requeued and 2 if it was consumed.
var reapScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
	return 0
end
if redis.call('HEXISTS', KEYS[3], ARGV[1]) == 0 then
	return 0
end
if ARGV[3] == '1' then
	redis.call('HDEL', KEYS[3], ARGV[1])
	redis.call('DECR', KEYS[4])
	return 2
end
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
redis.call('RPUSH', KEYS[2], ARGV[1])
return 1
`)

// RedisQueue is a queue in redis shared by workers on many hosts. Job ids
// wait in a list, claimed ids are kept in a sorted set scored by claim
// time. Payloads live in a hash until the job is done and every cookie
// has a counter of jobs not yet done.
type RedisQueue struct {
	rdb redis.UniversalClient
}

// NewRedisQueue creates a queue on an existing client.
func NewRedisQueue(rdb redis.UniversalClient) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

// DialRedisQueue connects to a redis server.
func DialRedisQueue(ctx context.Context, addr, password string, db int) (*RedisQueue, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "connect to redis %s", addr)
	}
	return NewRedisQueue(rdb), nil
}

func listKey() string                { return redisPrefix + "jobs" }
func claimedKey() string             { return redisPrefix + "claimed" }
func payloadKey() string             { return redisPrefix + "payloads" }
func outstandingKey(c string) string { return redisPrefix + "outstanding:" + c }
func abortedKey(c string) string     { return redisPrefix + "aborted:" + c }

func (q *RedisQueue) Push(ctx context.Context, jobs ...*Job) error {
	if len(jobs) == 0 {
		return nil
	}
	counts := map[string]int64{}
	ids := make([]interface{}, 0, len(jobs))
	payloads := make([]interface{}, 0, 2*len(jobs))
	for _, job := range jobs {
		payload, err := job.Marshal(ctx)
		if err != nil {
			return err
		}
		ids = append(ids, job.ID)
		payloads = append(payloads, job.ID, string(payload))
		counts[job.Cookie]++
	}

	// the counters are raised first so a fast worker can not drain a
	// cookie below zero
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for cookie, n := range counts {
			pipe.IncrBy(ctx, outstandingKey(cookie), n)
		}
		pipe.HSet(ctx, payloadKey(), payloads...)
		pipe.RPush(ctx, listKey(), ids...)
		return nil
	})
	return errors.Wrap(err, "push")
}

func (q *RedisQueue) Pop(ctx context.Context) (*Job, error) {
	keys := []string{listKey(), claimedKey(), payloadKey()}
	payload, err := popScript.Run(ctx, q.rdb, keys, time.Now().UnixMilli()).Text()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "pop")
	}

	job, err := Unmarshal(ctx, []byte(payload))
	if err != nil {
		_ = q.consume(ctx, gjson.Get(payload, "id").String(), gjson.Get(payload, "cookie").String())
		return nil, err
	}
	return job, nil
}

func (q *RedisQueue) Done(ctx context.Context, job *Job) error {
	return q.consume(ctx, job.ID, job.Cookie)
}

func (q *RedisQueue) consume(ctx context.Context, id, cookie string) error {
	keys := []string{payloadKey(), claimedKey(), listKey(), outstandingKey(cookie)}
	return errors.Wrap(doneScript.Run(ctx, q.rdb, keys, id).Err(), "done")
}

func (q *RedisQueue) Outstanding(ctx context.Context, cookie string) (int64, error) {
	n, err := q.rdb.Get(ctx, outstandingKey(cookie)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (q *RedisQueue) Abort(ctx context.Context, cookie string) error {
	return q.rdb.Set(ctx, abortedKey(cookie), 1, abortTTL).Err()
}

func (q *RedisQueue) Aborted(ctx context.Context, cookie string) (bool, error) {
	n, err := q.rdb.Exists(ctx, abortedKey(cookie)).Result()
	return n > 0, err
}

// Reap requeues jobs whose worker did not finish within lease. Only one
// reaper runs at a time.
func (q *RedisQueue) Reap(ctx context.Context, lease time.Duration, maxAttempts int) (requeued, dropped int, err error) {
	lock, err := redislock.Obtain(ctx, q.rdb, redisPrefix+"reaper", lease, nil)
	if err == redislock.ErrNotObtained {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, errors.Wrap(err, "reaper lock")
	}
	defer func() {
		if err := lock.Release(ctx); err != nil && err != redislock.ErrLockNotHeld {
			log.Error().Err(err).Msg("release reaper lock")
		}
	}()

	deadline := time.Now().Add(-lease).UnixMilli()
	stale, err := q.rdb.ZRangeByScore(ctx, claimedKey(), &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(deadline, 10)}).Result()
	if err != nil {
		return 0, 0, errors.Wrap(err, "stale jobs")
	}

	for _, id := range stale {
		payload, err := q.rdb.HGet(ctx, payloadKey(), id).Result()
		if err == redis.Nil {
			// finished in the meantime
			q.rdb.ZRem(ctx, claimedKey(), id)
			continue
		}
		if err != nil {
			return requeued, dropped, err
		}

		cookie := gjson.Get(payload, "cookie").String()
		drop := "1"
		if job, err := Unmarshal(ctx, []byte(payload)); err == nil {
			job.Attempts++
			if maxAttempts <= 0 || job.Attempts < maxAttempts {
				if b, err := job.Marshal(ctx); err == nil {
					payload, drop = string(b), "0"
				}
			}
		}

		keys := []string{claimedKey(), listKey(), payloadKey(), outstandingKey(cookie)}
		result, err := reapScript.Run(ctx, q.rdb, keys, id, payload, drop).Int()
		if err != nil {
			return requeued, dropped, errors.Wrap(err, "reap")
		}
		switch result {
		case 1:
			log.Warn().Str("job", id).Str("cookie", cookie).Msg("requeued stale job")
			requeued++
		case 2:
			log.Error().Str("job", id).Str("cookie", cookie).Msg("dropped job after repeated lost claims")
			dropped++
		}
	}
	return requeued, dropped, nil
}

func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}
