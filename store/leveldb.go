// Package store holds the profile and rate data behind the tax engine: a
// LevelDB repository, an LRU cache with expiry, an in-memory repository and
// YAML seed files.
package store

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"tax-rpc/taxengine"
)

const (
	profilePrefix = "profile:"
	ratePrefix    = "iva_rate:"
)

// LevelDB is the persistent ProfileRepository. Values are JSON documents
// keyed by profile:{client_id} and iva_rate:{jurisdiction}.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens (or creates) the database at path. An empty path gives
// a memory-backed database.
func OpenLevelDB(path string) (*LevelDB, error) {
	if path == "" {
		return NewMemLevelDB()
	}
	db, err := leveldb.OpenFile(path, &opt.Options{OpenFilesCacheCapacity: 16})
	if _, corrupted := err.(*lerrors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open leveldb %s", path)
	}
	return &LevelDB{db: db}, nil
}

// NewMemLevelDB returns a database that lives in memory only.
func NewMemLevelDB() (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "open memory leveldb")
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) get(key string, v any) (bool, error) {
	blob, err := l.db.Get([]byte(key), nil)
	switch err {
	case nil:
	case leveldb.ErrNotFound:
		return false, nil
	default:
		return false, errors.Wrapf(err, "get %s", key)
	}
	if err := json.Unmarshal(blob, v); err != nil {
		return false, errors.Wrapf(err, "decode %s", key)
	}
	return true, nil
}

func (l *LevelDB) put(key string, v any) error {
	blob, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return errors.Wrapf(l.db.Put([]byte(key), blob, nil), "put %s", key)
}

func (l *LevelDB) GetProfile(ctx context.Context, clientID string) (*taxengine.Profile, error) {
	var p taxengine.Profile
	ok, err := l.get(profilePrefix+clientID, &p)
	if !ok {
		return nil, err
	}
	return &p, nil
}

func (l *LevelDB) GetIvaRate(ctx context.Context, jurisdiction string) (*taxengine.IvaRate, error) {
	var r taxengine.IvaRate
	ok, err := l.get(ratePrefix+jurisdiction, &r)
	if !ok {
		return nil, err
	}
	return &r, nil
}

func (l *LevelDB) PutProfile(ctx context.Context, p *taxengine.Profile) error {
	return l.put(profilePrefix+p.ClientID, p)
}

func (l *LevelDB) PutIvaRate(ctx context.Context, r *taxengine.IvaRate) error {
	return l.put(ratePrefix+r.Jurisdiction, r)
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}
