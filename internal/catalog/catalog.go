// Package catalog loads and versions the course catalog.
//
// A Catalog is immutable once built. Records keep their file order, which is
// the deterministic tie-break for every ranking downstream. The version
// string changes whenever record content or the vocabulary version changes
// and is used as the vector cache key.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/garyellow/degree-advisor/internal/taxonomy"
)

// courseNamespace scopes deterministic course IDs.
var courseNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("degree-advisor/course"))

// Catalog is an ordered, versioned list of course records.
type Catalog struct {
	version string
	records []CourseRecord
	levels  []DegreeLevel
	byID    map[string]int
	vocab   *taxonomy.Vocabulary
}

// Load reads a JSON array of course records.
func Load(path string, vocab *taxonomy.Vocabulary) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data, vocab)
}

// Parse decodes a JSON array of course records.
func Parse(data []byte, vocab *taxonomy.Vocabulary) (*Catalog, error) {
	var records []CourseRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	return New(records, vocab), nil
}

// New builds a catalog. Records without a name are dropped; IDs are derived
// from name and source URL so they survive reloads.
func New(records []CourseRecord, vocab *taxonomy.Vocabulary) *Catalog {
	if vocab == nil {
		vocab = taxonomy.Default()
	}
	c := &Catalog{
		records: make([]CourseRecord, 0, len(records)),
		byID:    make(map[string]int, len(records)),
		vocab:   vocab,
	}
	for _, r := range records {
		r.Name = strings.TrimSpace(r.Name)
		if r.Name == "" {
			continue
		}
		r.Category = strings.TrimSpace(r.Category)
		r.ID = CourseID(r.Name, r.SourceURL)
		if _, dup := c.byID[r.ID]; dup {
			continue
		}
		c.byID[r.ID] = len(c.records)
		c.records = append(c.records, r)
		c.levels = append(c.levels, LevelOf(r, vocab))
	}
	c.version = computeVersion(c.records, vocab.Version)
	return c
}

// CourseID returns the deterministic identity of a course.
func CourseID(name, sourceURL string) string {
	return uuid.NewSHA1(courseNamespace, []byte(name+"|"+sourceURL)).String()
}

// computeVersion hashes base record content. Enrichment is excluded: it is
// attached later and must not invalidate the cache.
func computeVersion(records []CourseRecord, vocabVersion int) string {
	h := sha256.New()
	for _, r := range records {
		fmt.Fprintf(h, "%s\x1f%s\x1f%s\x1f%s\x1e", r.Name, r.Category, strings.Join(r.Subjects, "\x1d"), r.SourceURL)
	}
	return fmt.Sprintf("%s-v%d", hex.EncodeToString(h.Sum(nil))[:16], vocabVersion)
}

// Version identifies catalog content plus vocabulary version.
func (c *Catalog) Version() string { return c.version }

// Len returns the number of records.
func (c *Catalog) Len() int { return len(c.records) }

// Vocabulary returns the vocabulary the catalog was classified with.
func (c *Catalog) Vocabulary() *taxonomy.Vocabulary { return c.vocab }

// At returns the record at position i (catalog order).
func (c *Catalog) At(i int) CourseRecord { return c.records[i] }

// LevelAt returns the detected degree level at position i.
func (c *Catalog) LevelAt(i int) DegreeLevel { return c.levels[i] }

// Records returns a copy of all records in catalog order.
func (c *Catalog) Records() []CourseRecord {
	out := make([]CourseRecord, len(c.records))
	copy(out, c.records)
	return out
}

// Get looks up a record by ID.
func (c *Catalog) Get(id string) (CourseRecord, bool) {
	i, ok := c.byID[id]
	if !ok {
		return CourseRecord{}, false
	}
	return c.records[i], true
}

// Position returns the catalog position of id, or -1.
func (c *Catalog) Position(id string) int {
	if i, ok := c.byID[id]; ok {
		return i
	}
	return -1
}

// IndicesForLevel returns catalog positions whose level equals level, in order.
func (c *Catalog) IndicesForLevel(level DegreeLevel) []int {
	if level == LevelUnknown {
		return nil
	}
	var out []int
	for i, l := range c.levels {
		if l == level {
			out = append(out, i)
		}
	}
	return out
}

// FindBySourceURL returns the first record with the given source URL.
func (c *Catalog) FindBySourceURL(url string) (CourseRecord, bool) {
	for _, r := range c.records {
		if r.SourceURL == url {
			return r, true
		}
	}
	return CourseRecord{}, false
}
