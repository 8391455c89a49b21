package reasoning

import (
	"bytes"
	"encoding/binary"
	"math"
	"sort"
	"sync"

	"github.com/cliniscribe/dxgraph/internal/metrics"
)

// Cache memoizes Build against the full input tuple. It retains the most
// recent entry only: the authoring flow rebuilds after every edit, and the
// case that matters is consecutive builds over unchanged inputs, which must
// return the prior snapshot value instead of re-deriving it.
//
// Go slices and maps have no useful reference identity, so the tuple is keyed
// by a canonical byte fingerprint compared exactly. Safe for concurrent use.
type Cache struct {
	mu   sync.Mutex
	key  []byte
	snap *GraphSnapshot
}

// NewCache returns an empty cache.
func NewCache() *Cache { return &Cache{} }

// Build returns the memoized snapshot when the input tuple is unchanged and
// derives and retains a fresh one otherwise.
func (c *Cache) Build(in Input) *GraphSnapshot {
	key := fingerprint(in)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap != nil && bytes.Equal(c.key, key) {
		metrics.Default().IncGraphBuild(true)
		return c.snap
	}
	c.key = key
	c.snap = Build(in)
	metrics.Default().IncGraphBuild(false)
	return c.snap
}

// Invalidate drops the retained entry.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = nil
	c.snap = nil
}

// fingerprint encodes the tuple canonically: length-prefixed strings keep
// field boundaries unambiguous, and the exclusion set is sorted so that
// value-equal sets fingerprint identically regardless of map iteration order.
func fingerprint(in Input) []byte {
	var b bytes.Buffer
	writeString(&b, in.CurrentSymptom)
	writeStrings(&b, in.AssociatedSymptoms)

	writeLen(&b, len(in.Diagnoses))
	for _, d := range in.Diagnoses {
		writeString(&b, d.Name)
		writeFloat(&b, d.Confidence)
		writeString(&b, d.Category)
		writeString(&b, d.Description)
		writeStrings(&b, d.SupportingSymptoms)
		writeStrings(&b, d.ExcludingSymptoms)
		writeStrings(&b, d.RedFlags)
	}

	writeStrings(&b, in.RedFlags)

	excluded := make([]string, 0, len(in.Excluded))
	for name := range in.Excluded {
		excluded = append(excluded, name)
	}
	sort.Strings(excluded)
	writeStrings(&b, excluded)

	writeString(&b, in.Prioritized)
	return b.Bytes()
}

func writeLen(b *bytes.Buffer, n int) {
	var buf [binary.MaxVarintLen64]byte
	b.Write(buf[:binary.PutUvarint(buf[:], uint64(n))])
}

func writeString(b *bytes.Buffer, s string) {
	writeLen(b, len(s))
	b.WriteString(s)
}

func writeStrings(b *bytes.Buffer, ss []string) {
	writeLen(b, len(ss))
	for _, s := range ss {
		writeString(b, s)
	}
}

func writeFloat(b *bytes.Buffer, f float64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
	b.Write(buf[:])
}
