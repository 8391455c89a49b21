// Package reasoning derives the renderable differential-diagnosis graph from
// the structured reasoning sections of a clinical case: the current symptom,
// its associated symptoms, the candidate diagnoses with their evidence, and
// any red-flag findings.
package reasoning

// NodeKind classifies a graph vertex.
type NodeKind string

const (
	KindCurrentSymptom        NodeKind = "current_symptom"
	KindAssociatedSymptom     NodeKind = "associated_symptom"
	KindDifferentialDiagnosis NodeKind = "differential_diagnosis"
	KindRedFlag               NodeKind = "red_flag"
)

// LinkKind classifies a graph edge.
type LinkKind string

const (
	LinkAssociation LinkKind = "association"
	// LinkExclusion is reserved for excluding-evidence edges. Build does not
	// emit it yet; renderers must tolerate the kind.
	LinkExclusion LinkKind = "exclusion"
	LinkSupport   LinkKind = "support"
	LinkRedFlag   LinkKind = "red_flag"
)

// Spring strengths per link kind, consumed by the layout engine.
const (
	StrengthAssociation = 0.5
	StrengthSupport     = 0.7
	StrengthRedFlag     = 0.9
)

// PriorityBoost is added to the prioritized diagnosis's confidence, capped at 1.
const PriorityBoost = 0.2

// SymptomNode is one visual vertex. Confidence is present on the
// current-symptom node (always 1) and on diagnosis nodes, absent otherwise.
// Positions are not part of a node: they belong to the layout engine, which
// keys its body state by node ID.
type SymptomNode struct {
	ID          string   `json:"id"`
	Label       string   `json:"label"`
	Kind        NodeKind `json:"kind"`
	Confidence  *float64 `json:"confidence,omitempty"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
}

// SymptomLink is one directed visual edge. Source and Target always resolve
// to node IDs present in the same snapshot.
type SymptomLink struct {
	Source   string   `json:"source"`
	Target   string   `json:"target"`
	Kind     LinkKind `json:"kind"`
	Strength float64  `json:"strength"`
}

// GraphSnapshot is the sole output of Build. It is immutable once produced;
// every rebuild yields a wholly new value, never a mutation of a prior one.
type GraphSnapshot struct {
	Nodes []SymptomNode `json:"nodes"`
	Links []SymptomLink `json:"links"`
}

// Diagnosis is one differential-diagnosis record as entered in the case form.
// Category and Description are display metadata passed through to the node.
type Diagnosis struct {
	Name               string   `json:"name"`
	Confidence         float64  `json:"confidence"`
	Category           string   `json:"category,omitempty"`
	Description        string   `json:"description,omitempty"`
	SupportingSymptoms []string `json:"supportingSymptoms,omitempty"`
	ExcludingSymptoms  []string `json:"excludingSymptoms,omitempty"`
	RedFlags           []string `json:"redFlags,omitempty"`
}

// Input is the six-part tuple Build derives a snapshot from. Nil collections
// are treated as empty. An empty Prioritized means no diagnosis is
// prioritized.
type Input struct {
	CurrentSymptom     string
	AssociatedSymptoms []string
	Diagnoses          []Diagnosis
	RedFlags           []string
	Excluded           map[string]struct{}
	Prioritized        string
}
