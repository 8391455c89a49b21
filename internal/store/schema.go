package store

// Evidence kinds stored in diagnosis_evidence.kind.
const (
	evidenceSupporting = "supporting"
	evidenceExcluding  = "excluding"
	evidenceRedFlag    = "red_flag"
)

// schema is applied inside one transaction when a workspace database is first
// opened. Child rows carry an explicit position column: the reasoning sections
// are ordered lists and the graph derivation is order-sensitive.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS cases (
        id TEXT PRIMARY KEY,
        title TEXT NOT NULL DEFAULT '',
        current_symptom TEXT NOT NULL DEFAULT '',
        prioritized_diagnosis TEXT NOT NULL DEFAULT '',
        created_at TEXT NOT NULL,
        updated_at TEXT NOT NULL
    )`,

	`CREATE TABLE IF NOT EXISTS case_symptoms (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        case_id TEXT NOT NULL,
        position INTEGER NOT NULL,
        label TEXT NOT NULL,
        FOREIGN KEY (case_id) REFERENCES cases(id)
    )`,

	`CREATE TABLE IF NOT EXISTS case_diagnoses (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        case_id TEXT NOT NULL,
        position INTEGER NOT NULL,
        name TEXT NOT NULL,
        confidence REAL NOT NULL DEFAULT 0,
        category TEXT NOT NULL DEFAULT '',
        description TEXT NOT NULL DEFAULT '',
        excluded INTEGER NOT NULL DEFAULT 0,
        FOREIGN KEY (case_id) REFERENCES cases(id)
    )`,

	`CREATE TABLE IF NOT EXISTS diagnosis_evidence (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        diagnosis_id INTEGER NOT NULL,
        position INTEGER NOT NULL,
        kind TEXT NOT NULL CHECK (kind IN ('supporting', 'excluding', 'red_flag')),
        label TEXT NOT NULL,
        FOREIGN KEY (diagnosis_id) REFERENCES case_diagnoses(id)
    )`,

	`CREATE TABLE IF NOT EXISTS case_red_flags (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        case_id TEXT NOT NULL,
        position INTEGER NOT NULL,
        label TEXT NOT NULL,
        FOREIGN KEY (case_id) REFERENCES cases(id)
    )`,

	`CREATE INDEX IF NOT EXISTS idx_cases_updated_at ON cases(updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_case_symptoms_case ON case_symptoms(case_id, position)`,
	`CREATE INDEX IF NOT EXISTS idx_case_diagnoses_case ON case_diagnoses(case_id, position)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_case_diagnoses_name ON case_diagnoses(case_id, name)`,
	`CREATE INDEX IF NOT EXISTS idx_diagnosis_evidence_diag ON diagnosis_evidence(diagnosis_id, position)`,
	`CREATE INDEX IF NOT EXISTS idx_case_red_flags_case ON case_red_flags(case_id, position)`,
}
