// Package natslock implements lock.Store on a NATS JetStream key-value bucket.
//
// Create is the acquire primitive: it fails with jetstream.ErrKeyExists when
// the key is present. An expired lease is taken over with a revision-checked
// Update, and Release deletes with the revision it read, so two nodes racing
// on the same entry cannot both win.
package natslock

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/pulse/lock"
)

// DefaultBucket is the key-value bucket holding lock entries
const DefaultBucket = "cadence_locks"

type entry struct {
	Name       string `json:"name"`
	HolderID   string `json:"holder_id"`
	AcquiredAt int64  `json:"acquired_at"` // unix ms
	LeaseUntil int64  `json:"lease_until"` // unix ms
}

func (e entry) record() lock.Record {
	return lock.Record{
		Name:       e.Name,
		HolderID:   e.HolderID,
		AcquiredAt: time.UnixMilli(e.AcquiredAt).UTC(),
		LeaseUntil: time.UnixMilli(e.LeaseUntil).UTC(),
	}
}

// Store is a JetStream KV-backed lock.Store
type Store struct {
	kv  jetstream.KeyValue
	now lock.Clock
}

// New wraps an existing bucket
func New(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv, now: time.Now}
}

// Open creates the bucket if needed and returns a store over it
func Open(ctx context.Context, js jetstream.JetStream, bucket string) (*Store, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "cadence trigger locks",
		History:     1,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, errors.MarkLockStore(err, "create lock bucket "+bucket)
	}
	return New(kv), nil
}

// key encodes name into the restricted KV key alphabet
func key(name string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(name))
}

func (s *Store) get(ctx context.Context, name string) (*entry, uint64, error) {
	kve, err := s.kv.Get(ctx, key(name))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, errors.MarkLockStore(err, "read trigger lock")
	}

	var e entry
	if err := json.Unmarshal(kve.Value(), &e); err != nil {
		return nil, 0, errors.Wrapf(err, "decode lock entry %s", name)
	}
	return &e, kve.Revision(), nil
}

// TryAcquire implements lock.Store
func (s *Store) TryAcquire(ctx context.Context, name, holderID string, lease time.Duration) (lock.AcquireResult, error) {
	now := s.now()
	value, err := json.Marshal(entry{
		Name:       name,
		HolderID:   holderID,
		AcquiredAt: now.UnixMilli(),
		LeaseUntil: now.Add(lease).UnixMilli(),
	})
	if err != nil {
		return lock.AlreadyHeld, errors.Wrap(err, "encode lock entry")
	}

	_, err = s.kv.Create(ctx, key(name), value)
	if err == nil {
		return lock.Acquired, nil
	}
	if !errors.Is(err, jetstream.ErrKeyExists) {
		return lock.AlreadyHeld, errors.MarkLockStore(err, "acquire trigger lock")
	}

	current, revision, err := s.get(ctx, name)
	if err != nil {
		return lock.AlreadyHeld, err
	}
	if current == nil {
		// Released between Create and Get; the next tick will retry
		return lock.AlreadyHeld, nil
	}
	if current.LeaseUntil >= now.UnixMilli() {
		return lock.AlreadyHeld, nil
	}

	if _, err := s.kv.Update(ctx, key(name), value, revision); err != nil {
		if isRevisionConflict(err) {
			return lock.AlreadyHeld, nil
		}
		return lock.AlreadyHeld, errors.MarkLockStore(err, "take over expired trigger lock")
	}
	return lock.Acquired, nil
}

// Release implements lock.Store
func (s *Store) Release(ctx context.Context, name, holderID string) (lock.ReleaseResult, error) {
	current, revision, err := s.get(ctx, name)
	if err != nil {
		return lock.NotHeld, err
	}
	if current == nil || current.HolderID != holderID {
		return lock.NotHeld, nil
	}

	if err := s.kv.Delete(ctx, key(name), jetstream.LastRevision(revision)); err != nil {
		if isRevisionConflict(err) {
			return lock.NotHeld, nil
		}
		return lock.NotHeld, errors.MarkLockStore(err, "release trigger lock")
	}
	return lock.Released, nil
}

// IsExpired implements lock.Store
func (s *Store) IsExpired(ctx context.Context, name string) (bool, error) {
	current, _, err := s.get(ctx, name)
	if err != nil {
		return false, err
	}
	if current == nil {
		return true, nil
	}
	return current.LeaseUntil < s.now().UnixMilli(), nil
}

// Holder implements lock.Store
func (s *Store) Holder(ctx context.Context, name string) (*lock.Record, error) {
	current, _, err := s.get(ctx, name)
	if err != nil || current == nil {
		return nil, err
	}
	rec := current.record()
	return &rec, nil
}

// List implements lock.Store
func (s *Store) List(ctx context.Context) ([]lock.Record, error) {
	keys, err := s.kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.MarkLockStore(err, "list trigger locks")
	}

	out := make([]lock.Record, 0, len(keys))
	for _, k := range keys {
		name, err := base64.RawURLEncoding.DecodeString(k)
		if err != nil {
			continue
		}
		rec, err := s.Holder(ctx, string(name))
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out = append(out, *rec)
		}
	}
	return out, nil
}

// isRevisionConflict matches the error JetStream returns when an expected
// revision no longer matches the subject's last sequence
func isRevisionConflict(err error) bool {
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
	}
	return errors.Is(err, jetstream.ErrKeyExists)
}
