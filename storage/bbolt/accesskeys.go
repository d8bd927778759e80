package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/sessiongate/accesskey"
)

var (
	accessKeyBucket = []byte("access_keys")
	// accessKeyIndex maps the key secret to the record id.
	accessKeyIndex = []byte("access_key_index")
)

// AccessKeyRepository implements accesskey.Repository in a BBolt database.
type AccessKeyRepository struct {
	db *bbolt.DB
}

var _ accesskey.Repository = (*AccessKeyRepository)(nil)

func NewAccessKeyRepository(db *bbolt.DB) (*AccessKeyRepository, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(accessKeyBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(accessKeyIndex)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating access key buckets: %w", err)
	}
	return &AccessKeyRepository{db: db}, nil
}

func getRecord(tx *bbolt.Tx, id []byte) (*accesskey.Record, error) {
	data := tx.Bucket(accessKeyBucket).Get(id)
	if data == nil {
		return nil, accesskey.ErrNotFound
	}
	var rec accesskey.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding access key %s: %w", id, err)
	}
	return &rec, nil
}

func putRecord(tx *bbolt.Tx, rec *accesskey.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return tx.Bucket(accessKeyBucket).Put([]byte(rec.ID), data)
}

func (r *AccessKeyRepository) FindByKey(_ context.Context, key string) (*accesskey.Record, error) {
	var rec *accesskey.Record
	err := r.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(accessKeyIndex).Get([]byte(key))
		if id == nil {
			return accesskey.ErrNotFound
		}
		var err error
		rec, err = getRecord(tx, id)
		return err
	})
	return rec, err
}

func (r *AccessKeyRepository) Create(_ context.Context, rec *accesskey.Record) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(accessKeyBucket).Get([]byte(rec.ID)) != nil {
			return fmt.Errorf("id %s: %w", rec.ID, accesskey.ErrDuplicate)
		}
		idx := tx.Bucket(accessKeyIndex)
		if idx.Get([]byte(rec.Key)) != nil {
			return accesskey.ErrDuplicate
		}
		if err := putRecord(tx, rec); err != nil {
			return err
		}
		return idx.Put([]byte(rec.Key), []byte(rec.ID))
	})
}

func (r *AccessKeyRepository) update(id string, fn func(*accesskey.Record)) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		rec, err := getRecord(tx, []byte(id))
		if err != nil {
			return err
		}
		fn(rec)
		return putRecord(tx, rec)
	})
}

func (r *AccessKeyRepository) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(rec *accesskey.Record) { rec.LastUsedAt = &at })
}

func (r *AccessKeyRepository) SetActive(_ context.Context, id string, active bool) error {
	return r.update(id, func(rec *accesskey.Record) { rec.Active = active })
}

func (r *AccessKeyRepository) List(_ context.Context) ([]accesskey.Record, error) {
	var out []accesskey.Record
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(accessKeyBucket).ForEach(func(k, v []byte) error {
			var rec accesskey.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decoding access key %s: %w", k, err)
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
