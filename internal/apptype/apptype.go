// Package apptype holds the wire vocabulary shared by the REST and MCP
// surfaces: request payloads with their validation tags and the response
// shapes derived from stored case records.
package apptype

import (
	"time"

	"github.com/cliniscribe/dxgraph/internal/store"
)

// DiagnosisPayload is one differential-diagnosis entry as submitted by a
// client.
type DiagnosisPayload struct {
	Name               string   `json:"name" validate:"required,max=200" jsonschema:"The diagnosis name. Must be unique within the case."`
	Confidence         float64  `json:"confidence,omitempty" validate:"gte=0,lte=1" jsonschema:"Confidence in this diagnosis, 0 to 1."`
	Category           string   `json:"category,omitempty" validate:"max=100" jsonschema:"Clinical category, e.g. cardiovascular."`
	Description        string   `json:"description,omitempty" validate:"max=2000" jsonschema:"Free-text description."`
	Excluded           bool     `json:"excluded,omitempty" jsonschema:"Whether this diagnosis has been ruled out."`
	SupportingSymptoms []string `json:"supportingSymptoms,omitempty" validate:"dive,max=500" jsonschema:"Symptoms supporting this diagnosis."`
	ExcludingSymptoms  []string `json:"excludingSymptoms,omitempty" validate:"dive,max=500" jsonschema:"Symptoms arguing against this diagnosis."`
	RedFlags           []string `json:"redFlags,omitempty" validate:"dive,max=500" jsonschema:"Red-flag findings tied to this diagnosis."`
}

// ReasoningPayload is the full-replacement reasoning state of a case.
type ReasoningPayload struct {
	CurrentSymptom     string             `json:"currentSymptom" validate:"required,max=500" jsonschema:"The presenting symptom. Required."`
	AssociatedSymptoms []string           `json:"associatedSymptoms,omitempty" validate:"dive,max=500" jsonschema:"Symptoms accompanying the current one."`
	Diagnoses          []DiagnosisPayload `json:"diagnoses,omitempty" validate:"dive" jsonschema:"The differential diagnoses."`
	RedFlags           []string           `json:"redFlags,omitempty" validate:"dive,max=500" jsonschema:"Case-level red-flag findings."`
}

// ToReasoning converts the payload into the store's replacement type.
func (p ReasoningPayload) ToReasoning() store.Reasoning {
	r := store.Reasoning{
		CurrentSymptom:     p.CurrentSymptom,
		AssociatedSymptoms: p.AssociatedSymptoms,
		RedFlags:           p.RedFlags,
		Diagnoses:          make([]store.DiagnosisRecord, len(p.Diagnoses)),
	}
	for i, d := range p.Diagnoses {
		r.Diagnoses[i] = store.DiagnosisRecord{
			Name:               d.Name,
			Confidence:         d.Confidence,
			Category:           d.Category,
			Description:        d.Description,
			Excluded:           d.Excluded,
			SupportingSymptoms: d.SupportingSymptoms,
			ExcludingSymptoms:  d.ExcludingSymptoms,
			RedFlags:           d.RedFlags,
		}
	}
	return r
}

// CaseSummary is the row-level view of a case. Timestamps are RFC 3339
// strings so the type is safe for tool schemas.
type CaseSummary struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	CurrentSymptom string `json:"currentSymptom,omitempty"`
	Prioritized    string `json:"prioritizedDiagnosis,omitempty"`
	CreatedAt      string `json:"createdAt"`
	UpdatedAt      string `json:"updatedAt"`
}

// SummaryFromCase maps a stored case row onto the wire shape.
func SummaryFromCase(c store.Case) CaseSummary {
	return CaseSummary{
		ID:             c.ID,
		Title:          c.Title,
		CurrentSymptom: c.CurrentSymptom,
		Prioritized:    c.Prioritized,
		CreatedAt:      c.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      c.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// SummariesFromCases maps a list of case rows.
func SummariesFromCases(cases []store.Case) []CaseSummary {
	out := make([]CaseSummary, len(cases))
	for i, c := range cases {
		out[i] = SummaryFromCase(c)
	}
	return out
}

// CaseDetail is a fully loaded case with its reasoning sections.
type CaseDetail struct {
	CaseSummary
	AssociatedSymptoms []string           `json:"associatedSymptoms"`
	Diagnoses          []DiagnosisPayload `json:"diagnoses"`
	RedFlags           []string           `json:"redFlags"`
}

// DetailFromRecord maps a stored case record onto the wire shape.
func DetailFromRecord(rec *store.CaseRecord) CaseDetail {
	detail := CaseDetail{
		CaseSummary:        SummaryFromCase(rec.Case),
		AssociatedSymptoms: rec.AssociatedSymptoms,
		RedFlags:           rec.RedFlags,
		Diagnoses:          make([]DiagnosisPayload, len(rec.Diagnoses)),
	}
	for i, d := range rec.Diagnoses {
		detail.Diagnoses[i] = DiagnosisPayload{
			Name:               d.Name,
			Confidence:         d.Confidence,
			Category:           d.Category,
			Description:        d.Description,
			Excluded:           d.Excluded,
			SupportingSymptoms: d.SupportingSymptoms,
			ExcludingSymptoms:  d.ExcludingSymptoms,
			RedFlags:           d.RedFlags,
		}
	}
	return detail
}
