package clinic

import "github.com/cliniscribe/dxgraph/internal/store"

// Form sections that count toward documentation completeness.
const (
	SectionCurrentSymptom     = "current_symptom"
	SectionAssociatedSymptoms = "associated_symptoms"
	SectionDiagnoses          = "differential_diagnoses"
	SectionRedFlags           = "red_flags"
	SectionPriority           = "prioritized_diagnosis"
)

// SectionStatus reports whether one form section has content.
type SectionStatus struct {
	Name     string `json:"name"`
	Complete bool   `json:"complete"`
}

// CompletionReport summarizes how much of a case form is filled in. Each of
// the five sections weighs the same.
type CompletionReport struct {
	CaseID   string          `json:"caseId"`
	Percent  int             `json:"percent"`
	Sections []SectionStatus `json:"sections"`
}

func completionFor(rec *store.CaseRecord) CompletionReport {
	sections := []SectionStatus{
		{Name: SectionCurrentSymptom, Complete: rec.CurrentSymptom != ""},
		{Name: SectionAssociatedSymptoms, Complete: len(rec.AssociatedSymptoms) > 0},
		{Name: SectionDiagnoses, Complete: len(rec.Diagnoses) > 0},
		{Name: SectionRedFlags, Complete: len(rec.RedFlags) > 0},
		{Name: SectionPriority, Complete: rec.Prioritized != ""},
	}

	complete := 0
	for _, s := range sections {
		if s.Complete {
			complete++
		}
	}

	return CompletionReport{
		CaseID:   rec.ID,
		Percent:  complete * 100 / len(sections),
		Sections: sections,
	}
}
