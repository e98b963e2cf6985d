// Package matchcache holds the in-process identity cache and the
// nearest-neighbor matcher that answers "who is this?" without touching
// storage.
//
// The cache is bounded by a single user's social circle, not web-scale, so
// matching is a linear cosine-similarity scan over every cached embedding.
package matchcache

import (
	"math"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/recalld/internal/identity"
)

// DefaultThreshold is the minimum cosine similarity for a match. Cosine
// similarity ranges -1..1; 0.55 is deliberately lenient, preferring a
// false accept over failing to recognize a familiar face. Raise it toward
// 0.7 if misidentification matters more than recall.
const DefaultThreshold float32 = 0.55

// normEpsilon guards the divisor when a vector has (near) zero length.
const normEpsilon = 1e-8

// Cache maps person id to (profile, embedding). All methods are safe for
// concurrent use; Load swaps the full contents atomically so readers see
// either the old complete cache or the new one, never a partial state.
type Cache struct {
	mu        sync.RWMutex
	entries   map[string]identity.Entry
	threshold float32
}

// New creates an empty cache with the given match threshold. A zero
// threshold selects DefaultThreshold.
func New(threshold float32) *Cache {
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	return &Cache{
		entries:   make(map[string]identity.Entry),
		threshold: threshold,
	}
}

// Load atomically replaces the full cache contents with the snapshot.
// Entries without an embedding are skipped; they cannot be matched.
func (c *Cache) Load(entries []identity.Entry) {
	next := make(map[string]identity.Entry, len(entries))
	for _, e := range entries {
		if e.Person.ID == "" || len(e.Embedding) == 0 {
			continue
		}
		next[e.Person.ID] = e
	}

	c.mu.Lock()
	c.entries = next
	c.mu.Unlock()
}

// Upsert inserts or replaces the single entry for the person's id.
func (c *Cache) Upsert(p identity.Person, embedding []float32) {
	if p.ID == "" || len(embedding) == 0 {
		return
	}
	c.mu.Lock()
	c.entries[p.ID] = identity.Entry{Person: p, Embedding: embedding}
	c.mu.Unlock()
}

// Evict removes the entry for id. No-op when absent.
func (c *Cache) Evict(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Match scans the cache for the entry most similar to query.
//
// It tracks the globally best score regardless of threshold, and returns a
// person only when some entry cleared the threshold: the person attached to
// the single highest-scoring entry overall. The two trackers are separate.
// bestScore advances on every strictly higher score, while the returned
// match advances only when that higher score also clears the threshold.
//
// Iteration is in sorted id order so results are deterministic for a given
// cache state; on exact ties the first id scanned wins. An empty cache
// returns (nil, 0) without any comparison.
func (c *Cache) Match(query []float32) (*identity.Person, float32) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.entries) == 0 {
		return nil, 0
	}

	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var match *identity.Person
	bestScore := float32(-1.0)

	for _, id := range ids {
		e := c.entries[id]
		score := Similarity(query, e.Embedding)
		if score > bestScore {
			bestScore = score
			if score >= c.threshold {
				p := e.Person
				match = &p
			}
		}
	}

	return match, bestScore
}

// Similarity is the cosine similarity of a and b over the full -1..1 range.
// Both operands are normalized independently; stored vectors are never
// assumed to be unit-length. Vector length mismatches and zero-norm inputs
// yield 0.
func Similarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom < normEpsilon {
		return 0
	}
	return float32(dot / denom)
}
