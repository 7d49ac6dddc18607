// Package db persists uploaded document records, comparison jobs and upload
// usage stats in a Bolt database.
package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// DB is a thin wrapper around a Bolt database. It centralizes functions
// which interact with the database.
type DB struct {
	DB *bbolt.DB

	err  error
	once sync.Once
}

func (d *DB) init() error {
	d.once.Do(d._init)
	return d.err
}

var (
	bDocuments   = []byte("documents")
	bComparisons = []byte("comparisons")
	bStats       = []byte("stats")

	buckets = [...][]byte{
		bDocuments,
		bComparisons,
		bStats,
	}
)

func (d *DB) _init() {
	err := d.DB.Update(func(tx *bbolt.Tx) error {
		for _, buck := range buckets {
			_, err := tx.CreateBucketIfNotExists(buck)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		d.err = fmt.Errorf("initialization error: %w", err)
	}
}

// Document
// -----------------------------------------------------------------------------

// Document represents an uploaded document. The archived payload itself lives
// in storage under the same id.
type Document struct {
	Name      string    `json:"name"`
	Format    string    `json:"format"` // "txt" or "docx"
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	Sum       string    `json:"sum"`
}

func (f Document) IsZero() bool {
	return f.Sum == ""
}

func (d *DB) HasDocument(id string) (bool, error) {
	if err := d.init(); err != nil {
		return false, err
	}

	var has bool
	err := d.DB.View(func(tx *bbolt.Tx) error {
		has = tx.Bucket(bDocuments).Get([]byte(id)) != nil
		return nil
	})
	return has, err
}

func (d *DB) PutDocument(id string, doc Document) error {
	if err := d.init(); err != nil {
		return err
	}

	encoded, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	return d.DB.Batch(func(tx *bbolt.Tx) error {
		return tx.Bucket(bDocuments).Put([]byte(id), encoded)
	})
}

func (d *DB) GetDocument(id string) (Document, error) {
	if err := d.init(); err != nil {
		return Document{}, err
	}

	var buf []byte
	err := d.DB.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bDocuments).Get([]byte(id))
		buf = append(buf, data...)
		return nil
	})
	if err != nil || len(buf) == 0 {
		return Document{}, err
	}

	var doc Document
	err = json.Unmarshal(buf, &doc)
	return doc, err
}

// Comparison
// -----------------------------------------------------------------------------

// Comparison records one comparison job between two uploaded documents. The
// full result payload lives in storage under the comparison id; this record
// carries what the progress-polling endpoint needs.
type Comparison struct {
	DocA      string    `json:"doc_a"`
	DocB      string    `json:"doc_b"`
	State     string    `json:"state"`
	Progress  float64   `json:"progress"`
	WindowN   int       `json:"window_n"`
	Threshold float64   `json:"threshold"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (c Comparison) IsZero() bool {
	return c.State == ""
}

func (d *DB) PutComparison(id string, c Comparison) error {
	if err := d.init(); err != nil {
		return err
	}

	encoded, err := json.Marshal(c)
	if err != nil {
		return err
	}

	return d.DB.Batch(func(tx *bbolt.Tx) error {
		return tx.Bucket(bComparisons).Put([]byte(id), encoded)
	})
}

func (d *DB) GetComparison(id string) (Comparison, error) {
	if err := d.init(); err != nil {
		return Comparison{}, err
	}

	var buf []byte
	err := d.DB.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bComparisons).Get([]byte(id))
		buf = append(buf, data...)
		return nil
	})
	if err != nil || len(buf) == 0 {
		return Comparison{}, err
	}

	var c Comparison
	err = json.Unmarshal(buf, &c)
	return c, err
}

// UsageStat
// -----------------------------------------------------------------------------

type UsageStat struct {
	Period   string `json:"p"`
	NumBytes uint64 `json:"nb"`
	NumCalls uint64 `json:"nc"`
}

type UploadLimits struct {
	MaxBytes uint64
	MaxCalls uint64
}

var ErrLimitsExceeded = errors.New("limits exceeded")

// AddAmountsAndCompare increases the stats for name, and ensures that the
// updated stats are within the given limits. If the limits are exceeded,
// [ErrLimitsExceeded] is returned.
func (d *DB) AddAmountsAndCompare(name string, deltaStat UsageStat, limits UploadLimits) error {
	if err := d.init(); err != nil {
		return err
	}
	err := d.DB.Batch(func(tx *bbolt.Tx) error {
		// get the current value of stat, if any.
		bk := tx.Bucket(bStats)
		val := bk.Get([]byte(name))
		var stat UsageStat
		if len(val) != 0 {
			if err := json.Unmarshal(val, &stat); err != nil {
				return err
			}
		}

		// increase the values in stat.
		if stat.Period == deltaStat.Period {
			stat.NumCalls += deltaStat.NumCalls
			stat.NumBytes += deltaStat.NumBytes
		} else {
			// if the period switched, use the new deltaStat directly.
			stat = deltaStat
		}

		// if the values exceed the limits, return an error.
		if stat.NumBytes > limits.MaxBytes ||
			stat.NumCalls > limits.MaxCalls {
			return ErrLimitsExceeded
		}

		// set the new stats.
		res, err := json.Marshal(stat)
		if err != nil {
			return err
		}
		return bk.Put([]byte(name), res)
	})
	return err
}
