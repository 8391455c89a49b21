package reasoning

import (
	"fmt"
	"math"
)

// Build derives a GraphSnapshot from the reasoning sections of a case.
//
// The derivation is deterministic and order-preserving: nodes appear in input
// order and diagnosis indices are dense over the list that remains after
// exclusion filtering, so an excluded diagnosis does not reserve an index.
// Build never mutates its input and never fails; malformed or absent
// collections degrade to a smaller graph rather than an error.
func Build(in Input) *GraphSnapshot {
	nodes := make([]SymptomNode, 0, 1+len(in.AssociatedSymptoms)+len(in.Diagnoses)+len(in.RedFlags))
	links := make([]SymptomLink, 0, len(in.AssociatedSymptoms)+len(in.RedFlags))

	anchor := 1.0
	nodes = append(nodes, SymptomNode{
		ID:         "current",
		Label:      in.CurrentSymptom,
		Kind:       KindCurrentSymptom,
		Confidence: &anchor,
	})

	// Supporting evidence joins against the original associated-symptom list
	// by value; the first occurrence wins for duplicated text.
	symptomIndex := make(map[string]int, len(in.AssociatedSymptoms))
	for i, label := range in.AssociatedSymptoms {
		id := fmt.Sprintf("associated_%d", i)
		nodes = append(nodes, SymptomNode{ID: id, Label: label, Kind: KindAssociatedSymptom})
		links = append(links, SymptomLink{Source: "current", Target: id, Kind: LinkAssociation, Strength: StrengthAssociation})
		if _, seen := symptomIndex[label]; !seen {
			symptomIndex[label] = i
		}
	}

	kept := 0
	for _, d := range in.Diagnoses {
		if _, excluded := in.Excluded[d.Name]; excluded {
			continue
		}
		id := fmt.Sprintf("diagnosis_%d", kept)
		kept++

		confidence := d.Confidence
		if in.Prioritized != "" && d.Name == in.Prioritized {
			confidence = math.Min(confidence+PriorityBoost, 1.0)
		}
		nodes = append(nodes, SymptomNode{
			ID:          id,
			Label:       d.Name,
			Kind:        KindDifferentialDiagnosis,
			Confidence:  &confidence,
			Description: d.Description,
			Category:    d.Category,
		})

		for _, name := range d.SupportingSymptoms {
			// A supporting symptom outside the associated list is tolerated:
			// the reasoning text may cite evidence the form never captured.
			j, ok := symptomIndex[name]
			if !ok {
				continue
			}
			links = append(links, SymptomLink{
				Source:   fmt.Sprintf("associated_%d", j),
				Target:   id,
				Kind:     LinkSupport,
				Strength: StrengthSupport,
			})
		}
	}

	for i, label := range in.RedFlags {
		id := fmt.Sprintf("redflag_%d", i)
		nodes = append(nodes, SymptomNode{ID: id, Label: label, Kind: KindRedFlag})
		links = append(links, SymptomLink{Source: "current", Target: id, Kind: LinkRedFlag, Strength: StrengthRedFlag})
	}

	return &GraphSnapshot{Nodes: nodes, Links: links}
}
