package credentials

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/jrsteele09/election-session/internal/errors"
)

var (
	bucketName = []byte("credentials")
	recordKey  = []byte("current")
)

type boltRecord struct {
	Access     string     `json:"access,omitempty"`
	Refresh    string     `json:"refresh,omitempty"`
	Attributes Attributes `json:"attributes"`
}

// BoltStore persists the credentials of a headless agent across restarts
// in a single bbolt file.
type BoltStore struct {
	db *bolt.DB
}

var _ Store = (*BoltStore)(nil)

// OpenBoltStore opens (creating if needed) the bbolt file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "[BoltStore.Open] open %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "[BoltStore.Open] create bucket")
	}
	return &BoltStore{db: db}, nil
}

// Close releases the file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) SetCredentials(access, refresh string, attrs Attributes) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		rec, err := decode(b.Get(recordKey))
		if err != nil {
			return err
		}
		rec.Access = access
		if refresh != "" {
			rec.Refresh = refresh
		}
		rec.Attributes = attrs
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(recordKey, data)
	})
}

func (s *BoltStore) ClearCredentials() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete(recordKey)
	})
}

func (s *BoltStore) AccessCredential() (string, bool) {
	rec, ok := s.load()
	return rec.Access, ok && rec.Access != ""
}

func (s *BoltStore) RefreshCredential() (string, bool) {
	rec, ok := s.load()
	return rec.Refresh, ok && rec.Refresh != ""
}

func (s *BoltStore) HasCredential() bool {
	rec, ok := s.load()
	return ok && (rec.Access != "" || rec.Refresh != "")
}

func (s *BoltStore) Attributes() (Attributes, bool) {
	rec, ok := s.load()
	return rec.Attributes, ok
}

func (s *BoltStore) load() (boltRecord, bool) {
	var rec boltRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketName).Get(recordKey)
		if data == nil {
			return nil
		}
		found = true
		var err error
		rec, err = decode(data)
		return err
	})
	if err != nil {
		return boltRecord{}, false
	}
	return rec, found
}

func decode(data []byte) (boltRecord, error) {
	var rec boltRecord
	if data == nil {
		return rec, nil
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return boltRecord{}, errors.Wrap(err, "decode credential record")
	}
	return rec, nil
}
