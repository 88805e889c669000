// Package identity provides in-memory face gallery matched by cosine similarity of embeddings
package identity

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/LdDl/mot-sentry/mot"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

var (
	// ErrEmptyEmbedding is returned for entries without embedding or with zero-norm one
	ErrEmptyEmbedding = errors.New("empty embedding")
	// ErrEmptyName is returned for entries without name
	ErrEmptyName = errors.New("empty name")
)

// Entry is a known person
type Entry struct {
	Name      string    `json:"name"`
	Role      mot.Role  `json:"role"`
	Embedding []float64 `json:"embedding"`
}

type galleryEntry struct {
	Entry
	norm float64
}

// Gallery implements mot.Matcher. It is safe for concurrent use.
type Gallery struct {
	mu      sync.RWMutex
	entries []galleryEntry
	byName  map[string]int
}

// NewGallery creates empty gallery
func NewGallery() *Gallery {
	return &Gallery{
		entries: make([]galleryEntry, 0),
		byName:  make(map[string]int),
	}
}

// Add inserts entry or replaces entry with the same name
func (g *Gallery) Add(entry Entry) error {
	if strings.TrimSpace(entry.Name) == "" {
		return ErrEmptyName
	}
	if len(entry.Embedding) == 0 {
		return errors.Wrapf(ErrEmptyEmbedding, "entry '%s'", entry.Name)
	}
	norm := floats.Norm(entry.Embedding, 2)
	if norm == 0 {
		return errors.Wrapf(ErrEmptyEmbedding, "entry '%s' has zero norm", entry.Name)
	}
	embedding := make([]float64, len(entry.Embedding))
	copy(embedding, entry.Embedding)
	item := galleryEntry{
		Entry: Entry{Name: entry.Name, Role: entry.Role, Embedding: embedding},
		norm:  norm,
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if idx, ok := g.byName[entry.Name]; ok {
		g.entries[idx] = item
		return nil
	}
	g.byName[entry.Name] = len(g.entries)
	g.entries = append(g.entries, item)
	return nil
}

// Len returns number of entries
func (g *Gallery) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entries)
}

// Entries returns copy of entries in insertion order
func (g *Gallery) Entries() []Entry {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Entry, len(g.entries))
	for i, e := range g.entries {
		out[i] = e.Entry
	}
	return out
}

// Match returns entry with the highest cosine similarity if it is strictly above threshold.
// Entries with different embedding dimension are ignored.
func (g *Gallery) Match(embedding []float64, threshold float64) (mot.Match, bool) {
	targetNorm := floats.Norm(embedding, 2)
	if targetNorm == 0 {
		return mot.Match{}, false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	best := -1
	bestScore := -1.0
	for i, e := range g.entries {
		if len(e.Embedding) != len(embedding) {
			continue
		}
		similarity := floats.Dot(embedding, e.Embedding) / (targetNorm * e.norm)
		if similarity > bestScore {
			bestScore = similarity
			best = i
		}
	}
	if best < 0 || bestScore <= threshold {
		return mot.Match{}, false
	}
	return mot.Match{
		Name:  g.entries[best].Name,
		Role:  g.entries[best].Role,
		Score: bestScore,
	}, true
}

// ReadEntries parses JSON lines: {"name": "...", "role": "Staff", "embedding": [...]}.
// Blank lines are skipped.
func ReadEntries(r io.Reader) ([]Entry, error) {
	entries := make([]Entry, 0)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(text), &entry); err != nil {
			return nil, errors.Wrapf(err, "Can't parse gallery entry at line %d", line)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "Can't read gallery entries")
	}
	return entries, nil
}
