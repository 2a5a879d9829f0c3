// ABOUTME: In-memory similarity index over unit vectors for documents and table rows
// ABOUTME: Rebuilt wholesale from static and row documents; answers brute-force cosine top-k queries

package vector

import (
	"math"
	"math/rand/v2"
	"slices"
	"sort"
	"sync"
	"time"
)

// DefaultDimension is the vector dimension used when none is configured
const DefaultDimension = 128

// Document is an item in the similarity index
type Document struct {
	ID       string    `json:"id" yaml:"id"`
	Name     string    `json:"name" yaml:"name"`
	Content  string    `json:"content" yaml:"content"`
	Category string    `json:"category" yaml:"category"`
	Source   string    `json:"source" yaml:"-"`
	Vector   []float32 `json:"-" yaml:"-"`
}

// Match is a similarity search hit
type Match struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Content  string  `json:"content"`
	Category string  `json:"category"`
	Source   string  `json:"source"`
	Score    float64 `json:"score"`
}

// Stats summarizes the index contents
type Stats struct {
	DocumentCount int            `json:"documentCount"`
	Dimension     int            `json:"dimension"`
	Categories    map[string]int `json:"categories"`
	Sources       map[string]int `json:"sources"`
	RebuiltAt     time.Time      `json:"rebuiltAt"`
}

// Index is a brute-force cosine index. Vectors are unit length, so cosine
// similarity is the dot product.
type Index struct {
	mu        sync.RWMutex
	dim       int
	rng       *rand.Rand
	docs      []Document
	byID      map[string]int
	rebuiltAt time.Time
}

// IndexOption configures an Index
type IndexOption func(*Index)

// WithSeed makes vector assignment deterministic
func WithSeed(seed uint64) IndexOption {
	return func(ix *Index) {
		ix.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// NewIndex creates an empty index. A non-positive dim selects DefaultDimension.
func NewIndex(dim int, opts ...IndexOption) *Index {
	if dim <= 0 {
		dim = DefaultDimension
	}
	ix := &Index{
		dim:  dim,
		rng:  rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		byID: make(map[string]int),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Rebuild replaces the index contents with static followed by rows. Every
// document is assigned a fresh random unit vector. A later document with the
// same ID replaces an earlier one.
func (ix *Index) Rebuild(static, rows []Document) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	docs := make([]Document, 0, len(static)+len(rows))
	byID := make(map[string]int, len(static)+len(rows))
	for _, d := range slices.Concat(static, rows) {
		d.Vector = ix.randomUnit()
		if i, ok := byID[d.ID]; ok {
			docs[i] = d
			continue
		}
		byID[d.ID] = len(docs)
		docs = append(docs, d)
	}

	ix.docs = docs
	ix.byID = byID
	ix.rebuiltAt = time.Now().UTC()
}

// randomUnit draws a vector uniformly from the unit sphere. Caller holds mu.
func (ix *Index) randomUnit() []float32 {
	v := make([]float32, ix.dim)
	for {
		var norm float64
		for i := range v {
			x := ix.rng.NormFloat64()
			v[i] = float32(x)
			norm += x * x
		}
		if norm == 0 {
			continue
		}
		inv := 1 / math.Sqrt(norm)
		for i := range v {
			v[i] = float32(float64(v[i]) * inv)
		}
		return v
	}
}

// FindSimilar returns up to k documents most similar to the document with
// the given id, best first. The source document is never included. An
// unknown id or non-positive k yields an empty result.
func (ix *Index) FindSimilar(id string, k int) []Match {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := []Match{}
	src, ok := ix.byID[id]
	if !ok || k <= 0 {
		return out
	}
	query := ix.docs[src].Vector

	type scored struct {
		idx   int
		score float64
	}
	scoreds := make([]scored, 0, len(ix.docs)-1)
	for i := range ix.docs {
		if i == src {
			continue
		}
		scoreds = append(scoreds, scored{idx: i, score: dot(query, ix.docs[i].Vector)})
	}
	sort.SliceStable(scoreds, func(a, b int) bool { return scoreds[a].score > scoreds[b].score })
	if k > len(scoreds) {
		k = len(scoreds)
	}

	for _, s := range scoreds[:k] {
		d := ix.docs[s.idx]
		out = append(out, Match{
			ID:       d.ID,
			Name:     d.Name,
			Content:  d.Content,
			Category: d.Category,
			Source:   d.Source,
			Score:    s.score,
		})
	}
	return out
}

// Similarity returns the cosine similarity of two indexed documents
func (ix *Index) Similarity(a, b string) (float64, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	i, ok := ix.byID[a]
	if !ok {
		return 0, false
	}
	j, ok := ix.byID[b]
	if !ok {
		return 0, false
	}
	return dot(ix.docs[i].Vector, ix.docs[j].Vector), true
}

// Document returns the indexed document with the given id
func (ix *Index) Document(id string) (Document, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	i, ok := ix.byID[id]
	if !ok {
		return Document{}, false
	}
	return ix.docs[i], true
}

// Stats reports document counts by category and source
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	st := Stats{
		DocumentCount: len(ix.docs),
		Dimension:     ix.dim,
		Categories:    make(map[string]int),
		Sources:       make(map[string]int),
		RebuiltAt:     ix.rebuiltAt,
	}
	for _, d := range ix.docs {
		st.Categories[d.Category]++
		st.Sources[d.Source]++
	}
	return st
}

// Len returns the number of indexed documents
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
