package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/samber/do/v2"
	bolt "go.etcd.io/bbolt"
)

const (
	ChallengesBucket  = "challenges"
	DisputesBucket    = "disputes"
	TournamentsBucket = "tournaments"
	AccountsBucket    = "accounts"
	HoldsBucket       = "holds"
	SettingsBucket    = "settings"
	RatingsBucket     = "ratings"

	// RatedBucket remembers which challenges already moved ratings.
	RatedBucket = "rated"
)

var ErrBucketNotFound = errors.New("bucket doesn't exist")

type DatabaseService struct {
	DB *bolt.DB
}

func NewDatabaseService(i do.Injector) (*DatabaseService, error) {
	dataDir := do.MustInvokeNamed[string](i, "data-dir")

	return OpenDatabase(dataDir)
}

func OpenDatabase(dataDir string) (*DatabaseService, error) {
	err := os.MkdirAll(dataDir, 0750)
	if err != nil {
		return nil, fmt.Errorf("failed to create database path: %w", err)
	}

	dbPath := path.Join(dataDir, "arena.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range []string{
			ChallengesBucket,
			DisputesBucket,
			TournamentsBucket,
			AccountsBucket,
			HoldsBucket,
			SettingsBucket,
			RatingsBucket,
			RatedBucket,
		} {
			_, err := tx.CreateBucketIfNotExists([]byte(bucket))
			if err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", bucket, err)
			}
		}

		return nil
	})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to initialize database buckets: %w", err)
	}

	return &DatabaseService{
		DB: db,
	}, nil
}

func (s *DatabaseService) Shutdown() error {
	//nolint:wrapcheck
	return s.DB.Close()
}

// Update runs fn in a single write transaction. bbolt allows one writer at a
// time, so every balance-affecting transition is serialized here. Domain
// errors pass through untouched; anything else is reported as Unavailable.
func (s *DatabaseService) Update(fn func(tx *bolt.Tx) error) error {
	return classify(s.DB.Update(fn))
}

func (s *DatabaseService) View(fn func(tx *bolt.Tx) error) error {
	return classify(s.DB.View(fn))
}

func classify(err error) error {
	if err == nil {
		return nil
	}

	var domainErr *Error
	if errors.As(err, &domainErr) {
		return err
	}

	return Unavailable(err, "store unavailable")
}

// Record is implemented by every persisted entity. Version is the optimistic
// concurrency token: zero means "not yet stored".
type Record interface {
	RecordID() string
	RecordVersion() int64
	SetRecordVersion(v int64)
}

type versionStamp struct {
	Version int64 `json:"version"`
}

func GetRecord[T any](tx *bolt.Tx, bucket, id string) (*T, error) {
	b := tx.Bucket([]byte(bucket))
	if b == nil {
		return nil, fmt.Errorf("%w: %s", ErrBucketNotFound, bucket)
	}

	data := b.Get([]byte(id))
	if data == nil {
		return nil, Errorf(KindNotFound, "%s %q not found", bucket, id)
	}

	var result T

	err := json.Unmarshal(data, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s %q: %w", bucket, id, err)
	}

	return &result, nil
}

// PutRecord writes rec if the stored version still equals rec's version and
// bumps the version on success. A stale version is a Conflict.
func PutRecord(tx *bolt.Tx, bucket string, rec Record) error {
	b := tx.Bucket([]byte(bucket))
	if b == nil {
		return fmt.Errorf("%w: %s", ErrBucketNotFound, bucket)
	}

	key := []byte(rec.RecordID())

	var stored versionStamp

	existing := b.Get(key)

	switch {
	case existing == nil && rec.RecordVersion() != 0:
		return Errorf(KindNotFound, "%s %q not found", bucket, rec.RecordID())
	case existing != nil && rec.RecordVersion() == 0:
		return Errorf(KindConflict, "%s %q already exists", bucket, rec.RecordID())
	case existing != nil:
		err := json.Unmarshal(existing, &stored)
		if err != nil {
			return fmt.Errorf("failed to read stored version: %w", err)
		}
	}

	if stored.Version != rec.RecordVersion() {
		return Errorf(KindConflict, "%s %q was modified (version %d, expected %d)",
			bucket, rec.RecordID(), stored.Version, rec.RecordVersion())
	}

	rec.SetRecordVersion(rec.RecordVersion() + 1)

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal %s %q: %w", bucket, rec.RecordID(), err)
	}

	err = b.Put(key, data)
	if err != nil {
		return fmt.Errorf("failed to put %s %q: %w", bucket, rec.RecordID(), err)
	}

	return nil
}

// ForEachRecord decodes every record of a bucket in key order.
func ForEachRecord[T any](tx *bolt.Tx, bucket string, fn func(rec *T) error) error {
	b := tx.Bucket([]byte(bucket))
	if b == nil {
		return fmt.Errorf("%w: %s", ErrBucketNotFound, bucket)
	}

	//nolint:wrapcheck
	return b.ForEach(func(k, v []byte) error {
		var rec T

		err := json.Unmarshal(v, &rec)
		if err != nil {
			return fmt.Errorf("failed to unmarshal %s %q: %w", bucket, k, err)
		}

		return fn(&rec)
	})
}
