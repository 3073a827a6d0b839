package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var sessionsBucket = []byte("sessions")

// BoltStore keeps sessions in a local BoltDB file. The database is opened
// per call so concurrent CLI invocations do not hold the file lock.
type BoltStore struct {
	path    string
	timeout time.Duration
}

func NewBoltStore(path string) (*BoltStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("session: bolt path must not be empty")
	}
	return &BoltStore{path: path, timeout: time.Second}, nil
}

// DefaultBoltPath returns ~/.notary-chat/session.bolt, or a path under the
// working directory when the home directory is unknown.
func DefaultBoltPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".notary-chat", "session.bolt")
}

func (b *BoltStore) open() (*bolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return nil, fmt.Errorf("session: create dir: %w", err)
	}
	db, err := bolt.Open(b.path, 0o600, &bolt.Options{Timeout: b.timeout})
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", b.path, err)
	}
	return db, nil
}

func (b *BoltStore) Load(_ context.Context, profile string) (Session, error) {
	db, err := b.open()
	if err != nil {
		return Session{}, err
	}
	defer func() { _ = db.Close() }()

	var raw []byte
	err = db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(sessionsBucket)
		if bucket == nil {
			return nil
		}
		if v := bucket.Get([]byte(normalizeProfile(profile))); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return Session{}, fmt.Errorf("session: load: %w", err)
	}
	if raw == nil {
		return Session{}, ErrNoSession
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, fmt.Errorf("session: decode %q: %w", profile, err)
	}
	return s, nil
}

func (b *BoltStore) Save(_ context.Context, profile string, s Session) error {
	enc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	db, err := b.open()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(sessionsBucket)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(normalizeProfile(profile)), enc)
	})
}

func (b *BoltStore) Delete(_ context.Context, profile string) error {
	db, err := b.open()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(sessionsBucket)
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(normalizeProfile(profile)))
	})
}
