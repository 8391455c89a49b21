package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cliniscribe/dxgraph/internal/metrics"
)

// Reasoning is the full replacement payload for a case's clinical
// reasoning state. ReplaceReasoning swaps all four sections atomically.
type Reasoning struct {
	CurrentSymptom     string            `json:"currentSymptom"`
	AssociatedSymptoms []string          `json:"associatedSymptoms"`
	Diagnoses          []DiagnosisRecord `json:"diagnoses"`
	RedFlags           []string          `json:"redFlags"`
}

func validateReasoning(r *Reasoning) error {
	seen := make(map[string]struct{}, len(r.Diagnoses))
	for i := range r.Diagnoses {
		d := &r.Diagnoses[i]
		d.Name = strings.TrimSpace(d.Name)
		if d.Name == "" {
			return fmt.Errorf("%w: diagnosis name must be a non-empty string", ErrInvalidReasoning)
		}
		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("%w: duplicate diagnosis name %q", ErrInvalidReasoning, d.Name)
		}
		seen[d.Name] = struct{}{}
		d.Confidence = clampConfidence(d.Confidence)
	}
	return nil
}

func clampConfidence(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ReplaceReasoning replaces every reasoning section of a case in one
// transaction. A prioritized diagnosis that no longer appears in the new
// differential is cleared rather than left dangling.
func (s *Store) ReplaceReasoning(ctx context.Context, workspace, caseID string, reasoning Reasoning) error {
	done := metrics.TimeOp("replace_reasoning")
	success := false
	defer func() { done(success) }()

	if err := validateReasoning(&reasoning); err != nil {
		return err
	}

	db, err := s.getDB(workspace)
	if err != nil {
		return err
	}

	var prioritized string
	if err := db.QueryRowContext(ctx, "SELECT prioritized_diagnosis FROM cases WHERE id = ?", caseID).Scan(&prioritized); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("case %s: %w", caseID, ErrCaseNotFound)
		}
		return fmt.Errorf("failed to check case existence: %w", err)
	}
	if prioritized != "" && !containsDiagnosis(reasoning.Diagnoses, prioritized) {
		prioritized = ""
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteReasoningRows(ctx, tx, caseID); err != nil {
		return err
	}

	for i, label := range reasoning.AssociatedSymptoms {
		if strings.TrimSpace(label) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO case_symptoms (case_id, position, label) VALUES (?, ?, ?)",
			caseID, i, label); err != nil {
			return fmt.Errorf("failed to insert associated symptom: %w", err)
		}
	}

	for i, d := range reasoning.Diagnoses {
		result, err := tx.ExecContext(ctx,
			"INSERT INTO case_diagnoses (case_id, position, name, confidence, category, description, excluded) VALUES (?, ?, ?, ?, ?, ?, ?)",
			caseID, i, d.Name, d.Confidence, d.Category, d.Description, boolToInt(d.Excluded))
		if err != nil {
			return fmt.Errorf("failed to insert diagnosis %q: %w", d.Name, err)
		}
		rowID, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get diagnosis row id for %q: %w", d.Name, err)
		}
		if err := insertEvidence(ctx, tx, rowID, evidenceSupporting, d.SupportingSymptoms); err != nil {
			return fmt.Errorf("failed to insert supporting evidence for %q: %w", d.Name, err)
		}
		if err := insertEvidence(ctx, tx, rowID, evidenceExcluding, d.ExcludingSymptoms); err != nil {
			return fmt.Errorf("failed to insert excluding evidence for %q: %w", d.Name, err)
		}
		if err := insertEvidence(ctx, tx, rowID, evidenceRedFlag, d.RedFlags); err != nil {
			return fmt.Errorf("failed to insert red flag evidence for %q: %w", d.Name, err)
		}
	}

	for i, label := range reasoning.RedFlags {
		if strings.TrimSpace(label) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO case_red_flags (case_id, position, label) VALUES (?, ?, ?)",
			caseID, i, label); err != nil {
			return fmt.Errorf("failed to insert red flag: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE cases SET current_symptom = ?, prioritized_diagnosis = ?, updated_at = ? WHERE id = ?",
		strings.TrimSpace(reasoning.CurrentSymptom), prioritized, formatTime(time.Now().UTC()), caseID); err != nil {
		return fmt.Errorf("failed to update case: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	success = true
	return nil
}

func insertEvidence(ctx context.Context, tx *sql.Tx, diagnosisID int64, kind string, labels []string) error {
	for i, label := range labels {
		if strings.TrimSpace(label) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO diagnosis_evidence (diagnosis_id, position, kind, label) VALUES (?, ?, ?, ?)",
			diagnosisID, i, kind, label); err != nil {
			return err
		}
	}
	return nil
}

func containsDiagnosis(diagnoses []DiagnosisRecord, name string) bool {
	for _, d := range diagnoses {
		if d.Name == name {
			return true
		}
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SetExcluded flips the exclusion flag of one diagnosis in a case.
func (s *Store) SetExcluded(ctx context.Context, workspace, caseID, diagnosisName string, excluded bool) error {
	done := metrics.TimeOp("set_excluded")
	success := false
	defer func() { done(success) }()

	db, err := s.getDB(workspace)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		"UPDATE case_diagnoses SET excluded = ? WHERE case_id = ? AND name = ?",
		boolToInt(excluded), caseID, diagnosisName)
	if err != nil {
		return fmt.Errorf("failed to update exclusion for %q: %w", diagnosisName, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		var existing string
		if err := tx.QueryRowContext(ctx, "SELECT id FROM cases WHERE id = ?", caseID).Scan(&existing); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("case %s: %w", caseID, ErrCaseNotFound)
			}
			return fmt.Errorf("failed to check case existence: %w", err)
		}
		return fmt.Errorf("diagnosis %q in case %s: %w", diagnosisName, caseID, ErrDiagnosisNotFound)
	}

	if err := touchCase(ctx, tx, caseID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	success = true
	return nil
}

// SetPrioritized marks one diagnosis as the working priority, or clears
// the priority when name is empty. The diagnosis must exist in the case.
func (s *Store) SetPrioritized(ctx context.Context, workspace, caseID, diagnosisName string) error {
	done := metrics.TimeOp("set_prioritized")
	success := false
	defer func() { done(success) }()

	db, err := s.getDB(workspace)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if diagnosisName != "" {
		var existing int64
		if err := tx.QueryRowContext(ctx,
			"SELECT id FROM case_diagnoses WHERE case_id = ? AND name = ?",
			caseID, diagnosisName).Scan(&existing); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("diagnosis %q in case %s: %w", diagnosisName, caseID, ErrDiagnosisNotFound)
			}
			return fmt.Errorf("failed to lookup diagnosis %q: %w", diagnosisName, err)
		}
	}

	result, err := tx.ExecContext(ctx,
		"UPDATE cases SET prioritized_diagnosis = ?, updated_at = ? WHERE id = ?",
		diagnosisName, formatTime(time.Now().UTC()), caseID)
	if err != nil {
		return fmt.Errorf("failed to update prioritized diagnosis: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("case %s: %w", caseID, ErrCaseNotFound)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	success = true
	return nil
}

func touchCase(ctx context.Context, tx *sql.Tx, caseID string) error {
	if _, err := tx.ExecContext(ctx,
		"UPDATE cases SET updated_at = ? WHERE id = ?",
		formatTime(time.Now().UTC()), caseID); err != nil {
		return fmt.Errorf("failed to touch case: %w", err)
	}
	return nil
}
