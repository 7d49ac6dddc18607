package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func newDB(t *testing.T) *DB {
	t.Helper()
	bdb, err := bbolt.Open(filepath.Join(t.TempDir(), "db.bolt"), 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, bdb.Close())
	})
	return &DB{DB: bdb}
}

func TestDocuments(t *testing.T) {
	dt := time.Date(2025, time.January, 11, 12, 0, 0, 0, time.UTC)
	doc := Document{
		Name:      "thesis.docx",
		Format:    "docx",
		Size:      1234,
		CreatedAt: dt,
		Sum:       "abcdef",
	}

	d := newDB(t)
	err := d.PutDocument("hello", doc)
	require.NoError(t, err)

	// getting the document should succeed and return the same struct.
	{
		res, err := d.GetDocument("hello")
		assert.NoError(t, err)
		assert.Equal(t, doc, res)
	}
	{
		has, err := d.HasDocument("hello")
		assert.NoError(t, err)
		assert.Equal(t, true, has)
	}

	// getting a non-existent document should return no error and a zero value.
	{
		res, err := d.GetDocument("hello1")
		assert.NoError(t, err)
		assert.Equal(t, Document{}, res)
		assert.True(t, res.IsZero())
	}
	{
		has, err := d.HasDocument("hello1")
		assert.NoError(t, err)
		assert.Equal(t, false, has)
	}
}

func TestComparisons(t *testing.T) {
	dt := time.Date(2025, time.March, 2, 9, 30, 0, 0, time.UTC)
	cmp := Comparison{
		DocA:      "aaaaaaaa",
		DocB:      "bbbbbbbb",
		State:     "running",
		Progress:  0.5,
		WindowN:   8,
		Threshold: 0.75,
		CreatedAt: dt,
	}

	d := newDB(t)
	require.NoError(t, d.PutComparison("job1", cmp))

	res, err := d.GetComparison("job1")
	require.NoError(t, err)
	assert.Equal(t, cmp, res)

	// updating the same id overwrites.
	cmp.State = "done"
	cmp.Progress = 1
	require.NoError(t, d.PutComparison("job1", cmp))
	res, err = d.GetComparison("job1")
	require.NoError(t, err)
	assert.Equal(t, "done", res.State)

	// non-existent comparison: zero value, no error.
	res, err = d.GetComparison("nope")
	require.NoError(t, err)
	assert.True(t, res.IsZero())
}

func TestAddAmountsAndCompare(t *testing.T) {
	type call struct {
		name   string
		d      UsageStat
		lim    UploadLimits
		result error
	}
	tt := []struct {
		name  string
		calls []call
	}{
		{
			"excess_calls",
			[]call{
				{"morgan", UsageStat{Period: "2025/1", NumBytes: 100, NumCalls: 1}, UploadLimits{MaxBytes: 1 << 30, MaxCalls: 1}, nil},
				{"morgan", UsageStat{Period: "2025/1", NumBytes: 100, NumCalls: 1}, UploadLimits{MaxBytes: 1 << 30, MaxCalls: 1}, ErrLimitsExceeded},
			},
		},
		{
			"excess_bytes",
			[]call{
				{"morgan", UsageStat{Period: "2025/1", NumBytes: 100, NumCalls: 1}, UploadLimits{MaxBytes: 190, MaxCalls: 10}, nil},
				{"morgan", UsageStat{Period: "2025/1", NumBytes: 100, NumCalls: 1}, UploadLimits{MaxBytes: 190, MaxCalls: 10}, ErrLimitsExceeded},
			},
		},
		{
			"excess_calls_switch",
			[]call{
				{"morgan", UsageStat{Period: "2025/1", NumBytes: 100, NumCalls: 1}, UploadLimits{MaxBytes: 1 << 30, MaxCalls: 1}, nil},
				{"morgan", UsageStat{Period: "2025/2", NumBytes: 100, NumCalls: 1}, UploadLimits{MaxBytes: 1 << 30, MaxCalls: 1}, nil},
				{"morgan", UsageStat{Period: "2025/2", NumBytes: 100, NumCalls: 1}, UploadLimits{MaxBytes: 1 << 30, MaxCalls: 1}, ErrLimitsExceeded},
			},
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			db := newDB(t)
			for _, cal := range tc.calls {
				err := db.AddAmountsAndCompare(cal.name, cal.d, cal.lim)
				if cal.result == nil {
					assert.NoError(t, err)
				} else {
					assert.ErrorIs(t, err, cal.result)
				}
			}
		})
	}
}
