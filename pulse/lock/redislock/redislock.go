// Package redislock implements lock.Store on Redis.
//
// A lock is a single key set with NX and a millisecond expiry, so Redis
// itself reclaims expired leases. Release is a compare-and-delete script
// that only removes the key when the caller is still the holder.
package redislock

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/pulse/lock"
)

// DefaultKeyPrefix namespaces lock keys in a shared Redis
const DefaultKeyPrefix = "cadence:lock:"

// releaseScript deletes KEYS[1] only when the holder field of its value, the
// text before the last "|", equals ARGV[1]. Same split as parseValue.
var releaseScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
	return 0
end
local holder = string.match(v, '^(.*)|%d+$')
if holder == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Store is a Redis-backed lock.Store
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	now    lock.Clock
}

// New wraps an existing client; prefix "" uses DefaultKeyPrefix
func New(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{rdb: rdb, prefix: prefix, now: time.Now}
}

// Dial connects to a single Redis server and verifies it answers PING
func Dial(ctx context.Context, opts *redis.Options, prefix string) (*Store, error) {
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, errors.MarkLockStore(err, "connect to redis at "+opts.Addr)
	}
	return New(rdb, prefix), nil
}

// Close closes the underlying client
func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) key(name string) string {
	return s.prefix + name
}

// TryAcquire implements lock.Store
func (s *Store) TryAcquire(ctx context.Context, name, holderID string, lease time.Duration) (lock.AcquireResult, error) {
	value := holderID + "|" + strconv.FormatInt(s.now().UnixMilli(), 10)
	ok, err := s.rdb.SetNX(ctx, s.key(name), value, lease).Result()
	if err != nil {
		return lock.AlreadyHeld, errors.MarkLockStore(err, "acquire trigger lock")
	}
	if !ok {
		return lock.AlreadyHeld, nil
	}
	return lock.Acquired, nil
}

// Release implements lock.Store
func (s *Store) Release(ctx context.Context, name, holderID string) (lock.ReleaseResult, error) {
	n, err := releaseScript.Run(ctx, s.rdb, []string{s.key(name)}, holderID).Int()
	if err != nil {
		return lock.NotHeld, errors.MarkLockStore(err, "release trigger lock")
	}
	if n == 0 {
		return lock.NotHeld, nil
	}
	return lock.Released, nil
}

// IsExpired implements lock.Store; Redis drops expired keys itself
func (s *Store) IsExpired(ctx context.Context, name string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.key(name)).Result()
	if err != nil {
		return false, errors.MarkLockStore(err, "check trigger lock")
	}
	return n == 0, nil
}

// Holder implements lock.Store
func (s *Store) Holder(ctx context.Context, name string) (*lock.Record, error) {
	key := s.key(name)

	pipe := s.rdb.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, errors.MarkLockStore(err, "read trigger lock")
	}

	value, err := getCmd.Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.MarkLockStore(err, "read trigger lock")
	}

	rec := parseValue(name, value)
	if ttl := ttlCmd.Val(); ttl > 0 {
		rec.LeaseUntil = s.now().Add(ttl).UTC()
	}
	return rec, nil
}

// List implements lock.Store
func (s *Store) List(ctx context.Context) ([]lock.Record, error) {
	var out []lock.Record
	iter := s.rdb.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		name := strings.TrimPrefix(iter.Val(), s.prefix)
		rec, err := s.Holder(ctx, name)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out = append(out, *rec)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, errors.MarkLockStore(err, "list trigger locks")
	}
	return out, nil
}

func parseValue(name, value string) *lock.Record {
	rec := &lock.Record{Name: name, HolderID: value}
	if i := strings.LastIndexByte(value, '|'); i >= 0 {
		rec.HolderID = value[:i]
		if ms, err := strconv.ParseInt(value[i+1:], 10, 64); err == nil {
			rec.AcquiredAt = time.UnixMilli(ms).UTC()
		}
	}
	return rec
}
