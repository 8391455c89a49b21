package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cliniscribe/dxgraph/internal/metrics"
)

// CreateCase inserts an empty case and returns it.
func (s *Store) CreateCase(ctx context.Context, workspace, title, currentSymptom string) (*Case, error) {
	done := metrics.TimeOp("create_case")
	success := false
	defer func() { done(success) }()

	db, err := s.getDB(workspace)
	if err != nil {
		return nil, err
	}

	c := &Case{
		ID:             uuid.NewString(),
		Title:          strings.TrimSpace(title),
		CurrentSymptom: strings.TrimSpace(currentSymptom),
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
	}
	c.UpdatedAt = c.CreatedAt

	_, err = db.ExecContext(ctx,
		"INSERT INTO cases (id, title, current_symptom, prioritized_diagnosis, created_at, updated_at) VALUES (?, ?, ?, '', ?, ?)",
		c.ID, c.Title, c.CurrentSymptom, formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert case: %w", err)
	}

	success = true
	return c, nil
}

// UpsertCase creates a case when caseID is empty and updates the existing
// row otherwise. Empty title or currentSymptom values leave the stored
// fields unchanged, so a caller can rename a case without clobbering the
// presenting symptom.
func (s *Store) UpsertCase(ctx context.Context, workspace, caseID, title, currentSymptom string) (*Case, error) {
	if caseID == "" {
		return s.CreateCase(ctx, workspace, title, currentSymptom)
	}

	done := metrics.TimeOp("upsert_case")
	success := false
	defer func() { done(success) }()

	if _, err := uuid.Parse(caseID); err != nil {
		return nil, fmt.Errorf("case id must be a UUID: %w", err)
	}

	db, err := s.getDB(workspace)
	if err != nil {
		return nil, err
	}

	title = strings.TrimSpace(title)
	currentSymptom = strings.TrimSpace(currentSymptom)
	now := formatTime(time.Now().UTC())

	sets := "updated_at = ?"
	args := []interface{}{now}
	if title != "" {
		sets += ", title = ?"
		args = append(args, title)
	}
	if currentSymptom != "" {
		sets += ", current_symptom = ?"
		args = append(args, currentSymptom)
	}
	args = append(args, caseID)

	result, err := db.ExecContext(ctx, "UPDATE cases SET "+sets+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update case %s: %w", caseID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected for update: %w", err)
	}
	if rowsAffected == 0 {
		if _, err := db.ExecContext(ctx,
			"INSERT INTO cases (id, title, current_symptom, prioritized_diagnosis, created_at, updated_at) VALUES (?, ?, ?, '', ?, ?)",
			caseID, title, currentSymptom, now, now); err != nil {
			return nil, fmt.Errorf("failed to insert case %s: %w", caseID, err)
		}
	}

	c, err := s.getCaseRow(ctx, db, caseID)
	if err != nil {
		return nil, err
	}
	success = true
	return c, nil
}

func (s *Store) getCaseRow(ctx context.Context, db *sql.DB, caseID string) (*Case, error) {
	row := db.QueryRowContext(ctx,
		"SELECT id, title, current_symptom, prioritized_diagnosis, created_at, updated_at FROM cases WHERE id = ?", caseID)

	var c Case
	var createdAt, updatedAt string
	if err := row.Scan(&c.ID, &c.Title, &c.CurrentSymptom, &c.Prioritized, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("case %s: %w", caseID, ErrCaseNotFound)
		}
		return nil, fmt.Errorf("failed to scan case: %w", err)
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

// GetCase loads a case with all its reasoning sections.
func (s *Store) GetCase(ctx context.Context, workspace, caseID string) (*CaseRecord, error) {
	done := metrics.TimeOp("get_case")
	success := false
	defer func() { done(success) }()

	db, err := s.getDB(workspace)
	if err != nil {
		return nil, err
	}

	c, err := s.getCaseRow(ctx, db, caseID)
	if err != nil {
		return nil, err
	}

	rec := &CaseRecord{Case: *c}
	if err := s.loadSections(ctx, workspace, db, rec); err != nil {
		return nil, err
	}

	success = true
	return rec, nil
}

// loadSections fills the ordered reasoning lists of rec.
func (s *Store) loadSections(ctx context.Context, workspace string, db *sql.DB, rec *CaseRecord) error {
	symptoms, err := s.queryLabels(ctx, workspace, db,
		"SELECT label FROM case_symptoms WHERE case_id = ? ORDER BY position", rec.ID)
	if err != nil {
		return fmt.Errorf("failed to load associated symptoms: %w", err)
	}
	rec.AssociatedSymptoms = symptoms

	stmt, err := s.getPreparedStmt(ctx, workspace, db,
		"SELECT id, name, confidence, category, description, excluded FROM case_diagnoses WHERE case_id = ? ORDER BY position")
	if err != nil {
		return err
	}
	rows, err := stmt.QueryContext(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to load diagnoses: %w", err)
	}
	defer rows.Close()

	rec.Diagnoses = []DiagnosisRecord{}
	rowIDs := []int64{}
	for rows.Next() {
		var d DiagnosisRecord
		var rowID int64
		var excluded int
		if err := rows.Scan(&rowID, &d.Name, &d.Confidence, &d.Category, &d.Description, &excluded); err != nil {
			return fmt.Errorf("failed to scan diagnosis: %w", err)
		}
		d.Excluded = excluded != 0
		rec.Diagnoses = append(rec.Diagnoses, d)
		rowIDs = append(rowIDs, rowID)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating diagnoses: %w", err)
	}

	if len(rec.Diagnoses) > 0 {
		if err := s.loadEvidence(ctx, workspace, db, rec, rowIDs); err != nil {
			return err
		}
	}

	redFlags, err := s.queryLabels(ctx, workspace, db,
		"SELECT label FROM case_red_flags WHERE case_id = ? ORDER BY position", rec.ID)
	if err != nil {
		return fmt.Errorf("failed to load red flags: %w", err)
	}
	rec.RedFlags = redFlags
	return nil
}

// loadEvidence distributes the evidence rows of one case onto its diagnoses
// in a single joined query instead of one query per diagnosis.
func (s *Store) loadEvidence(ctx context.Context, workspace string, db *sql.DB, rec *CaseRecord, rowIDs []int64) error {
	stmt, err := s.getPreparedStmt(ctx, workspace, db,
		`SELECT e.diagnosis_id, e.kind, e.label
         FROM diagnosis_evidence e
         JOIN case_diagnoses d ON d.id = e.diagnosis_id
         WHERE d.case_id = ?
         ORDER BY e.diagnosis_id, e.position`)
	if err != nil {
		return err
	}
	rows, err := stmt.QueryContext(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to load diagnosis evidence: %w", err)
	}
	defer rows.Close()

	byRowID := make(map[int64]*DiagnosisRecord, len(rowIDs))
	for i, id := range rowIDs {
		byRowID[id] = &rec.Diagnoses[i]
	}

	for rows.Next() {
		var diagnosisID int64
		var kind, label string
		if err := rows.Scan(&diagnosisID, &kind, &label); err != nil {
			return fmt.Errorf("failed to scan evidence: %w", err)
		}
		d, ok := byRowID[diagnosisID]
		if !ok {
			continue
		}
		switch kind {
		case evidenceSupporting:
			d.SupportingSymptoms = append(d.SupportingSymptoms, label)
		case evidenceExcluding:
			d.ExcludingSymptoms = append(d.ExcludingSymptoms, label)
		case evidenceRedFlag:
			d.RedFlags = append(d.RedFlags, label)
		}
	}
	return rows.Err()
}

func (s *Store) queryLabels(ctx context.Context, workspace string, db *sql.DB, sqlText string, caseID string) ([]string, error) {
	stmt, err := s.getPreparedStmt(ctx, workspace, db, sqlText)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	labels := []string{}
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, err
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}

// ListCases returns case rows most recently updated first.
func (s *Store) ListCases(ctx context.Context, workspace string, limit, offset int) ([]Case, error) {
	done := metrics.TimeOp("list_cases")
	success := false
	defer func() { done(success) }()

	db, err := s.getDB(workspace)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := db.QueryContext(ctx,
		"SELECT id, title, current_symptom, prioritized_diagnosis, created_at, updated_at FROM cases ORDER BY updated_at DESC, id LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query cases: %w", err)
	}
	defer rows.Close()

	cases, err := scanCases(rows)
	if err != nil {
		return nil, err
	}
	success = true
	return cases, nil
}

// SearchCases performs a text search over case titles and current symptoms.
func (s *Store) SearchCases(ctx context.Context, workspace, query string, limit int) ([]Case, error) {
	done := metrics.TimeOp("search_cases")
	success := false
	defer func() { done(success) }()

	db, err := s.getDB(workspace)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}
	if limit <= 0 {
		limit = 20
	}

	like := fmt.Sprintf("%%%s%%", query)
	rows, err := db.QueryContext(ctx,
		"SELECT id, title, current_symptom, prioritized_diagnosis, created_at, updated_at FROM cases WHERE title LIKE ? OR current_symptom LIKE ? ORDER BY updated_at DESC, id LIMIT ?",
		like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search cases: %w", err)
	}
	defer rows.Close()

	cases, err := scanCases(rows)
	if err != nil {
		return nil, err
	}
	success = true
	return cases, nil
}

func scanCases(rows *sql.Rows) ([]Case, error) {
	cases := []Case{}
	for rows.Next() {
		var c Case
		var createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.Title, &c.CurrentSymptom, &c.Prioritized, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan case row: %w", err)
		}
		c.CreatedAt = parseTime(createdAt)
		c.UpdatedAt = parseTime(updatedAt)
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating case rows: %w", err)
	}
	return cases, nil
}

// DeleteCase removes a case and all of its reasoning rows.
func (s *Store) DeleteCase(ctx context.Context, workspace, caseID string) error {
	done := metrics.TimeOp("delete_case")
	success := false
	defer func() { done(success) }()

	db, err := s.getDB(workspace)
	if err != nil {
		return err
	}

	var existing string
	if err := db.QueryRowContext(ctx, "SELECT id FROM cases WHERE id = ?", caseID).Scan(&existing); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("case %s: %w", caseID, ErrCaseNotFound)
		}
		return fmt.Errorf("failed to check case existence: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteReasoningRows(ctx, tx, caseID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM cases WHERE id = ?", caseID); err != nil {
		return fmt.Errorf("failed to delete case: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	success = true
	return nil
}

// deleteReasoningRows clears all child rows of a case inside tx. Evidence
// rows go first: they hang off the diagnosis rows.
func deleteReasoningRows(ctx context.Context, tx *sql.Tx, caseID string) error {
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM diagnosis_evidence WHERE diagnosis_id IN (SELECT id FROM case_diagnoses WHERE case_id = ?)", caseID); err != nil {
		return fmt.Errorf("failed to delete diagnosis evidence: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM case_diagnoses WHERE case_id = ?", caseID); err != nil {
		return fmt.Errorf("failed to delete diagnoses: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM case_symptoms WHERE case_id = ?", caseID); err != nil {
		return fmt.Errorf("failed to delete associated symptoms: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM case_red_flags WHERE case_id = ?", caseID); err != nil {
		return fmt.Errorf("failed to delete red flags: %w", err)
	}
	return nil
}
