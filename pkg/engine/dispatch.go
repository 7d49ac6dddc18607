package engine

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ProgressFunc reports comparison progress as (fraction in [0,1],
// batches done, total batches). Invoked only from the driver, after a
// batch finishes; never from a worker.
type ProgressFunc func(fraction float64, batchesDone, totalBatches uint64)

// CancelToken is a lock-free, shareable cancellation signal. The zero value
// is ready to use.
type CancelToken struct {
	set atomic.Bool
}

// Cancel requests termination. Safe to call from any goroutine, any number
// of times.
func (c *CancelToken) Cancel() { c.set.Store(true) }

// IsSet reports whether Cancel has been called.
func (c *CancelToken) IsSet() bool { return c.set.Load() }

// aCandidates pairs one A fragment index with the B fragment indices that
// share at least one sketch key with it.
type aCandidates struct {
	aIdx       int
	candidates []int
}

// matchBatch is a contiguous run of A fragments (with their candidate Bs)
// assigned to a single worker.
type matchBatch struct {
	entries []aCandidates
	pairs   int
}

// buildCandidates runs candidate generation single-threaded over every A
// fragment, de-duplicating each fragment's candidate set by B fragment
// index.
func buildCandidates(aFrags []Fragment, idx bucketIndex) []aCandidates {
	out := make([]aCandidates, len(aFrags))
	for i, a := range aFrags {
		out[i] = aCandidates{aIdx: i, candidates: idx.candidates(a)}
	}
	return out
}

// batchCandidates chunks candidate entries into batches of size roughly
// max(100, total/workerCount) candidate pairs, never splitting a single A
// fragment's candidates across two batches.
func batchCandidates(entries []aCandidates, workerCount int) []matchBatch {
	total := 0
	for _, e := range entries {
		total += len(e.candidates)
	}
	if total == 0 {
		return nil
	}
	if workerCount < 1 {
		workerCount = 1
	}
	target := total / workerCount
	if target < 100 {
		target = 100
	}

	var batches []matchBatch
	var cur matchBatch
	for _, e := range entries {
		cur.entries = append(cur.entries, e)
		cur.pairs += len(e.candidates)
		if cur.pairs >= target {
			batches = append(batches, cur)
			cur = matchBatch{}
		}
	}
	if len(cur.entries) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

// scoreBatch scores every candidate pair in a batch against threshold tau,
// checking the cancel flag between pairs. It never blocks on I/O and touches
// no shared mutable state.
func scoreBatch(aFrags, bFrags []Fragment, batch matchBatch, tau float64, cancel *CancelToken) (matches []Match, considered int) {
	for _, e := range batch.entries {
		a := aFrags[e.aIdx]
		for _, bi := range e.candidates {
			if cancel != nil && cancel.IsSet() {
				return matches, considered
			}
			considered++
			b := bFrags[bi]
			s, ops := score(a, b)
			if s >= tau {
				matches = append(matches, Match{FragA: a, FragB: b, Score: s, Ops: ops})
			}
		}
	}
	return matches, considered
}

// matchDriver runs the parallel match stage: candidate
// generation, batching, bounded-parallel scoring via errgroup, ordered
// merge, and serialized progress reporting. Returns the accepted matches in
// batch-submission order, the number of candidate pairs actually scored,
// and whether the run was cancelled before completion.
func matchDriver(ctx context.Context, aFrags, bFrags []Fragment, idx bucketIndex, tau float64, workerCount int, progress ProgressFunc, cancel *CancelToken) (matches []Match, candidatesConsidered int, cancelled bool) {
	entries := buildCandidates(aFrags, idx)
	batches := batchCandidates(entries, workerCount)
	if len(batches) == 0 {
		return nil, 0, false
	}

	results := make([][]Match, len(batches))
	counts := make([]int, len(batches))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(workerCount)

	done := make(chan int, len(batches))
	for bi, batch := range batches {
		bi, batch := bi, batch
		g.Go(func() error {
			m, c := scoreBatch(aFrags, bFrags, batch, tau, cancel)
			results[bi] = m
			counts[bi] = c
			done <- bi
			return nil
		})
	}
	go func() {
		g.Wait()
		close(done)
	}()

	var batchesDone uint64
	total := uint64(len(batches))
	for range done {
		batchesDone++
		if progress != nil {
			progress(float64(batchesDone)/float64(total), batchesDone, total)
		}
	}

	for i, m := range results {
		matches = append(matches, m...)
		candidatesConsidered += counts[i]
	}

	if cancel != nil && cancel.IsSet() {
		return nil, candidatesConsidered, true
	}
	return matches, candidatesConsidered, false
}
