package reasoning

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInput() Input {
	return Input{
		CurrentSymptom:     "chest pain",
		AssociatedSymptoms: []string{"dyspnea", "nausea"},
		Diagnoses: []Diagnosis{
			{Name: "MI", Confidence: 0.8, SupportingSymptoms: []string{"dyspnea"}},
			{Name: "GERD", Confidence: 0.3},
		},
		RedFlags:    []string{"crushing pain"},
		Excluded:    map[string]struct{}{"GERD": {}},
		Prioritized: "MI",
	}
}

func TestCacheReusesSnapshotForEqualInputs(t *testing.T) {
	c := NewCache()

	// Two independently constructed but value-equal tuples must hit.
	first := c.Build(sampleInput())
	second := c.Build(sampleInput())

	require.Same(t, first, second)
}

func TestCacheRebuildsWhenTupleChanges(t *testing.T) {
	c := NewCache()

	first := c.Build(sampleInput())

	changed := sampleInput()
	changed.Prioritized = ""
	second := c.Build(changed)

	require.NotSame(t, first, second)
	mi := findNode(t, second, "diagnosis_0")
	require.NotNil(t, mi.Confidence)
	assert.InDelta(t, 0.8, *mi.Confidence, 1e-9)

	// Single-entry retention: going back to the first tuple rebuilds.
	third := c.Build(sampleInput())
	require.NotSame(t, first, third)
	assert.Equal(t, first, third)
}

func TestCacheIgnoresExclusionSetOrder(t *testing.T) {
	c := NewCache()

	a := sampleInput()
	a.Excluded = map[string]struct{}{"GERD": {}, "PE": {}, "aortic dissection": {}}
	first := c.Build(a)

	b := sampleInput()
	b.Excluded = map[string]struct{}{"aortic dissection": {}, "PE": {}, "GERD": {}}
	second := c.Build(b)

	require.Same(t, first, second)
}

func TestCacheDistinguishesFieldBoundaries(t *testing.T) {
	c := NewCache()

	a := Input{CurrentSymptom: "ab", AssociatedSymptoms: []string{"c"}}
	b := Input{CurrentSymptom: "a", AssociatedSymptoms: []string{"bc"}}

	first := c.Build(a)
	second := c.Build(b)
	require.NotSame(t, first, second)
	assert.NotEqual(t, first.Nodes[0].Label, second.Nodes[0].Label)
}

func TestCacheInvalidate(t *testing.T) {
	c := NewCache()

	first := c.Build(sampleInput())
	c.Invalidate()
	second := c.Build(sampleInput())

	require.NotSame(t, first, second)
	assert.Equal(t, first, second)
}

func TestCacheConcurrentBuilds(t *testing.T) {
	c := NewCache()
	in := sampleInput()

	var wg sync.WaitGroup
	snaps := make([]*GraphSnapshot, 16)
	for i := range snaps {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snaps[i] = c.Build(in)
		}(i)
	}
	wg.Wait()

	for _, s := range snaps {
		require.NotNil(t, s)
		assert.Equal(t, snaps[0], s)
	}
}
