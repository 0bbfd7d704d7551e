// Package assemble is the fan-in half of the pipeline: it accumulates
// synthesized chunks per (job, section), detects completion, and
// reassembles ordered audio with inter-chunk pauses.
package assemble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/narrata-labs/narrata-core/internal/protocol"
)

// Key identifies one collection: a job working on one section.
type Key struct {
	JobID        string
	SectionIndex string
}

func (k Key) String() string {
	return k.JobID + "/" + k.SectionIndex
}

// ChunkSet is a complete, index-ordered set of synthesized chunks ready
// for assembly.
type ChunkSet struct {
	Key       Key
	BookTitle string
	Heading   string
	Chunks    [][]byte
}

type outcome int

const (
	outcomePending outcome = iota
	outcomeComplete
	outcomeTimeout
)

type entry struct {
	total   int
	book    string
	heading string
	chunks  map[int][]byte
	timer   *time.Timer
	done    chan struct{}
	result  outcome
}

// Collector tracks chunk arrivals keyed by chunk index. Arrival order is
// unordered across workers; duplicates overwrite rather than
// double-count. A collection that does not complete within the window
// times out and its partial set is discarded.
type Collector struct {
	mu        sync.Mutex
	window    time.Duration
	entries   map[Key]*entry
	onTimeout func(Key)
	log       *slog.Logger
}

// New builds a collector. onTimeout is invoked (without the lock held)
// for every collection that expires before completing; it may be nil.
func New(window time.Duration, onTimeout func(Key), log *slog.Logger) *Collector {
	return &Collector{
		window:    window,
		entries:   make(map[Key]*entry),
		onTimeout: onTimeout,
		log:       log.With(slog.String("component", "chunk-collector")),
	}
}

// Add records one synthesis result. It returns a non-nil ChunkSet
// exactly once per key: the moment the received index set equals
// {0..total-1}.
func (c *Collector) Add(key Key, res protocol.SynthesisResultPayload) (*ChunkSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries[key]
	if e == nil {
		if res.TotalChunks <= 0 {
			return nil, fmt.Errorf("collection %s: total_chunks must be positive, got %d", key, res.TotalChunks)
		}
		e = &entry{
			total:   res.TotalChunks,
			book:    res.BookTitle,
			heading: res.Heading,
			chunks:  make(map[int][]byte, res.TotalChunks),
			done:    make(chan struct{}),
		}
		e.timer = time.AfterFunc(c.window, func() { c.expire(key) })
		c.entries[key] = e
	}

	// total_chunks is fixed at fan-out time; a disagreeing arrival is
	// suspect but the first-seen value stays authoritative.
	if res.TotalChunks != e.total {
		c.log.Warn("chunk arrival disagrees on total_chunks",
			slog.String("key", key.String()),
			slog.Int("expected", e.total),
			slog.Int("got", res.TotalChunks))
	}
	if res.ChunkIndex < 0 || res.ChunkIndex >= e.total {
		return nil, fmt.Errorf("collection %s: chunk index %d out of range [0,%d)", key, res.ChunkIndex, e.total)
	}

	e.chunks[res.ChunkIndex] = res.Audio
	if len(e.chunks) < e.total {
		return nil, nil
	}

	e.timer.Stop()
	e.result = outcomeComplete
	close(e.done)
	delete(c.entries, key)

	ordered := make([][]byte, e.total)
	for i := 0; i < e.total; i++ {
		ordered[i] = e.chunks[i]
	}
	return &ChunkSet{
		Key:       key,
		BookTitle: e.book,
		Heading:   e.heading,
		Chunks:    ordered,
	}, nil
}

func (c *Collector) expire(key Key) {
	c.mu.Lock()
	e := c.entries[key]
	if e == nil {
		c.mu.Unlock()
		return
	}
	e.result = outcomeTimeout
	close(e.done)
	delete(c.entries, key)
	received := len(e.chunks)
	total := e.total
	c.mu.Unlock()

	c.log.Warn("chunk collection timed out, discarding partial set",
		slog.String("key", key.String()),
		slog.Int("received", received),
		slog.Int("total", total))
	if c.onTimeout != nil {
		c.onTimeout(key)
	}
}

// Wait blocks until the collection under key completes or times out.
// It returns protocol.ErrCollectTimeout on expiry and nil when the set
// completed or no collection is pending for the key.
func (c *Collector) Wait(ctx context.Context, key Key) error {
	c.mu.Lock()
	e := c.entries[key]
	c.mu.Unlock()
	if e == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		if e.result == outcomeTimeout {
			return protocol.ErrCollectTimeout
		}
		return nil
	}
}

// Pending reports the number of in-flight collections.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Discard drops a pending collection, keeping already-received chunks
// only long enough to report how many there were. Used when synthesis
// for the section has failed.
func (c *Collector) Discard(key Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[key]
	if e == nil {
		return 0
	}
	e.timer.Stop()
	e.result = outcomeTimeout
	close(e.done)
	delete(c.entries, key)
	return len(e.chunks)
}
