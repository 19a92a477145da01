package corrstate

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/s2"
	"go.etcd.io/bbolt"
)

// BboltBackend is the durable correlation-state backend spec.md's §1
// Non-goals alludes to ("state is volatile unless a non-default backend
// is plugged in"). Expiry is recomputed lazily on each access instead of
// via a background timer: every Incr/Count prunes entries whose absolute
// expiry has already passed before reading/writing the record, so no
// goroutine needs to survive a process restart to keep state correct.
type BboltBackend struct {
	db *bbolt.DB
}

// record is the persisted per-(group,discriminator) state: one absolute
// expiry timestamp (unix nanoseconds) per live increment.
type record struct {
	Expiries []int64
}

// OpenBboltBackend opens (creating if absent) a bbolt database file to
// back correlation state across process restarts. syncWrites controls
// bbolt's fsync-on-commit behavior (db.NoSync): true favors durability,
// false favors write throughput at the risk of losing the most recent
// commits on an unclean shutdown.
func OpenBboltBackend(path string, syncWrites bool) (*BboltBackend, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	db.NoSync = !syncWrites
	return &BboltBackend{db: db}, nil
}

func (b *BboltBackend) Close() error {
	return b.db.Close()
}

// bucketName hashes the rule id to a fixed-width bucket key with xxhash,
// keeping the bbolt top-level key space uniform regardless of how long
// or unusual rule ids are.
func bucketName(ruleID string) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], xxhash.Sum64String(ruleID))
	return buf[:]
}

// recordKey joins group and discriminator with a NUL separator so a
// group's discriminators can be prefix-scanned independent of their
// content.
func recordKey(group, disc string) []byte {
	key := make([]byte, 0, len(group)+1+len(disc))
	key = append(key, group...)
	key = append(key, 0)
	key = append(key, disc...)
	return key
}

func groupPrefix(group string) []byte {
	return append([]byte(group), 0)
}

func (b *BboltBackend) Register(spec RuleSpec) (Handle, error) {
	bucket := bucketName(spec.RuleID)
	err := b.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &bboltHandle{bucket: bucket, timespan: spec.Timespan, db: b.db}, nil
}

type bboltHandle struct {
	bucket   []byte
	timespan time.Duration
	db       *bbolt.DB
}

func (h *bboltHandle) Incr(_ context.Context, key Key) (uint64, error) {
	var result uint64
	err := h.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(h.bucket)
		now := time.Now()

		rec, err := loadRecord(bkt, recordKey(key.Group, key.Disc))
		if err != nil {
			return err
		}
		rec.Expiries = pruneExpired(rec.Expiries, now)
		rec.Expiries = append(rec.Expiries, now.Add(h.timespan).UnixNano())
		if err := storeRecord(bkt, recordKey(key.Group, key.Disc), rec); err != nil {
			return err
		}

		if !key.Distinct {
			result = uint64(len(rec.Expiries))
			return nil
		}
		result, err = countDistinct(bkt, key.Group, now)
		return err
	})
	return result, err
}

func (h *bboltHandle) Count(_ context.Context, key Key) (uint64, error) {
	var result uint64
	err := h.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(h.bucket)
		now := time.Now()

		if !key.Distinct {
			rec, err := loadRecord(bkt, recordKey(key.Group, key.Disc))
			if err != nil {
				return err
			}
			rec.Expiries = pruneExpired(rec.Expiries, now)
			if err := storeRecord(bkt, recordKey(key.Group, key.Disc), rec); err != nil {
				return err
			}
			result = uint64(len(rec.Expiries))
			return nil
		}
		var err error
		result, err = countDistinct(bkt, key.Group, now)
		return err
	})
	return result, err
}

// countDistinct prunes and counts every discriminator bucket under group
// that still has at least one live expiry, removing exhausted ones.
func countDistinct(bkt *bbolt.Bucket, group string, now time.Time) (uint64, error) {
	prefix := groupPrefix(group)
	c := bkt.Cursor()
	var live uint64
	var toDelete [][]byte
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		rec, err := decodeRecord(v)
		if err != nil {
			return 0, err
		}
		pruned := pruneExpired(rec.Expiries, now)
		if len(pruned) == 0 {
			toDelete = append(toDelete, append([]byte(nil), k...))
			continue
		}
		live++
		if len(pruned) != len(rec.Expiries) {
			if err := storeRecord(bkt, k, record{Expiries: pruned}); err != nil {
				return 0, err
			}
		}
	}
	for _, k := range toDelete {
		if err := bkt.Delete(k); err != nil {
			return 0, err
		}
	}
	return live, nil
}

func pruneExpired(expiries []int64, now time.Time) []int64 {
	nowNano := now.UnixNano()
	kept := expiries[:0]
	for _, e := range expiries {
		if e > nowNano {
			kept = append(kept, e)
		}
	}
	return kept
}

func loadRecord(bkt *bbolt.Bucket, key []byte) (record, error) {
	v := bkt.Get(key)
	if v == nil {
		return record{}, nil
	}
	return decodeRecord(v)
}

func decodeRecord(v []byte) (record, error) {
	raw, err := s2.Decode(nil, v)
	if err != nil {
		return record{}, err
	}
	var rec record
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
		return record{}, err
	}
	return rec, nil
}

func storeRecord(bkt *bbolt.Bucket, key []byte, rec record) error {
	if len(rec.Expiries) == 0 {
		return bkt.Delete(key)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return err
	}
	return bkt.Put(key, s2.Encode(nil, buf.Bytes()))
}
