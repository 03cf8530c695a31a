// Package ledger persists what the till must remember across restarts:
// which order lines the kitchen has already received, and the name of the
// last printer it connected to.
package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"tillprint/internal/receipt"
)

const (
	sentBucketName     = "sent"
	settingsBucketName = "settings"

	lastDeviceKey = "last_device"
)

var ErrBadFingerprint = errors.New("ledger: malformed fingerprint")

// Ledger is a bbolt file holding sent-to-kitchen marks and settings
type Ledger struct {
	db  *bolt.DB
	now func() time.Time
}

type sentRecord struct {
	Lines     map[string][]byte `cbor:"1,keyasint"`
	UpdatedAt int64             `cbor:"2,keyasint"`
}

// Open opens or creates the ledger at path
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir ledger path: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{sentBucketName, settingsBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Ledger{db: db, now: time.Now}, nil
}

func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Sent returns the kitchen marks recorded for an order; an unknown order
// has an empty state.
func (l *Ledger) Sent(orderID string) (receipt.SentState, error) {
	state := receipt.SentState{}
	err := l.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(sentBucketName)).Get([]byte(orderID))
		if len(data) == 0 {
			return nil
		}
		var rec sentRecord
		if err := unmarshal(data, &rec); err != nil {
			return fmt.Errorf("decode marks for %s: %w", orderID, err)
		}
		for id, raw := range rec.Lines {
			var fp receipt.Fingerprint
			if len(raw) != len(fp) {
				return fmt.Errorf("%w: order %s line %s", ErrBadFingerprint, orderID, id)
			}
			copy(fp[:], raw)
			state[id] = fp
		}
		return nil
	})
	return state, err
}

// MarkSent merges marks into the order's record in one transaction
func (l *Ledger) MarkSent(orderID string, marks receipt.SentState) error {
	if len(marks) == 0 {
		return nil
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(sentBucketName))
		key := []byte(orderID)

		rec := sentRecord{Lines: map[string][]byte{}}
		if data := b.Get(key); len(data) > 0 {
			if err := unmarshal(data, &rec); err != nil {
				return fmt.Errorf("decode marks for %s: %w", orderID, err)
			}
			if rec.Lines == nil {
				rec.Lines = map[string][]byte{}
			}
		}
		for id, fp := range marks {
			rec.Lines[id] = append([]byte(nil), fp[:]...)
		}
		rec.UpdatedAt = l.now().Unix()

		data, err := marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// Forget drops an order's marks, e.g. once it is paid and closed
func (l *Ledger) Forget(orderID string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(sentBucketName)).Delete([]byte(orderID))
	})
}

// Prune removes orders whose marks were last updated before cutoff and
// returns how many were removed
func (l *Ledger) Prune(cutoff time.Time) (int, error) {
	removed := 0
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(sentBucketName))
		var stale [][]byte
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec sentRecord
			if err := unmarshal(v, &rec); err != nil {
				// unreadable records are dropped too
				stale = append(stale, append([]byte(nil), k...))
				continue
			}
			if time.Unix(rec.UpdatedAt, 0).Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

// LastDevice returns the name of the printer last connected, or ""
func (l *Ledger) LastDevice() (string, error) {
	var name string
	err := l.db.View(func(tx *bolt.Tx) error {
		name = string(tx.Bucket([]byte(settingsBucketName)).Get([]byte(lastDeviceKey)))
		return nil
	})
	return name, err
}

func (l *Ledger) SetLastDevice(name string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(settingsBucketName)).Put([]byte(lastDeviceKey), []byte(name))
	})
}
