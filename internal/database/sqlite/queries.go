package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/immunoload/internal/core"
)

const (
	subjectColumns = "subject_id, external_id, condition, age, sex, created_at"
	sampleColumns  = "sample_id, project_id, subject_id, external_id, treatment, response, sample_type, " +
		"time_from_treatment_start, b_cell, cd8_t_cell, cd4_t_cell, nk_cell, monocyte"
)

type scanner interface {
	Scan(dest ...any) error
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse created_at %q: %w", s, err)
	}
	return t, nil
}

// --- projects ---

func (t *Tx) CreateProject(ctx context.Context, externalID *string) (core.Project, error) {
	p := core.Project{ExternalID: externalID, CreatedAt: time.Now().UTC()}
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO projects (external_id, created_at) VALUES (?, ?) RETURNING project_id`,
		externalID, p.CreatedAt.Format(time.RFC3339Nano),
	).Scan(&p.ID)
	if err != nil {
		return core.Project{}, mapError("insert project", err)
	}
	return p, nil
}

func scanProject(row scanner) (core.Project, error) {
	var (
		p       core.Project
		created string
	)
	if err := row.Scan(&p.ID, &p.ExternalID, &created); err != nil {
		return core.Project{}, err
	}
	ts, err := parseTime(created)
	if err != nil {
		return core.Project{}, err
	}
	p.CreatedAt = ts
	return p, nil
}

func (t *Tx) GetProject(ctx context.Context, id int64) (*core.Project, error) {
	p, err := scanProject(t.tx.QueryRowContext(ctx,
		`SELECT project_id, external_id, created_at FROM projects WHERE project_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError("get project", err)
	}
	return &p, nil
}

func (t *Tx) ListProjects(ctx context.Context, lp core.ListParams) ([]core.Project, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT project_id, external_id, created_at FROM projects ORDER BY project_id LIMIT ? OFFSET ?`,
		lp.Limit, lp.Offset)
	if err != nil {
		return nil, mapError("list projects", err)
	}
	defer rows.Close()

	projects := []core.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, mapError("scan project", err)
		}
		projects = append(projects, p)
	}
	return projects, mapError("list projects", rows.Err())
}

func (t *Tx) CountProjectSamples(ctx context.Context, id int64) (int64, error) {
	return t.count(ctx, `SELECT COUNT(*) FROM samples WHERE project_id = ?`, id)
}

func (t *Tx) DeleteProject(ctx context.Context, id int64) (bool, error) {
	return t.deleteOne(ctx, `DELETE FROM projects WHERE project_id = ?`, id)
}

// --- subjects ---

func (t *Tx) CreateSubject(ctx context.Context, in core.SubjectInput) (core.Subject, error) {
	s := core.Subject{
		ExternalID: in.ExternalID,
		Condition:  in.Condition,
		Age:        in.Age,
		Sex:        in.Sex,
		CreatedAt:  time.Now().UTC(),
	}
	if in.CreatedAt != nil {
		s.CreatedAt = in.CreatedAt.UTC()
	}
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO subjects (external_id, condition, age, sex, created_at)
		 VALUES (?, ?, ?, ?, ?) RETURNING subject_id`,
		in.ExternalID, in.Condition, in.Age, in.Sex, s.CreatedAt.Format(time.RFC3339Nano),
	).Scan(&s.ID)
	if err != nil {
		return core.Subject{}, mapError("insert subject", err)
	}
	return s, nil
}

func scanSubject(row scanner) (core.Subject, error) {
	var (
		s       core.Subject
		created string
	)
	if err := row.Scan(&s.ID, &s.ExternalID, &s.Condition, &s.Age, &s.Sex, &created); err != nil {
		return core.Subject{}, err
	}
	ts, err := parseTime(created)
	if err != nil {
		return core.Subject{}, err
	}
	s.CreatedAt = ts
	return s, nil
}

func (t *Tx) getSubject(ctx context.Context, op, where string, args ...any) (*core.Subject, error) {
	s, err := scanSubject(t.tx.QueryRowContext(ctx,
		"SELECT "+subjectColumns+" FROM subjects WHERE "+where+" ORDER BY subject_id LIMIT 1", args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(op, err)
	}
	return &s, nil
}

func (t *Tx) listSubjects(ctx context.Context, op, query string, args ...any) ([]core.Subject, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	subjects := []core.Subject{}
	for rows.Next() {
		s, err := scanSubject(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		subjects = append(subjects, s)
	}
	return subjects, mapError(op, rows.Err())
}

func (t *Tx) GetSubject(ctx context.Context, id int64) (*core.Subject, error) {
	return t.getSubject(ctx, "get subject", "subject_id = ?", id)
}

func (t *Tx) GetSubjectByExternalID(ctx context.Context, externalID string) (*core.Subject, error) {
	return t.getSubject(ctx, "get subject by external id", "external_id = ?", externalID)
}

func (t *Tx) FindSubjectExact(ctx context.Context, m core.SubjectMatch) (*core.Subject, error) {
	return t.getSubject(ctx, "find subject",
		"condition IS ? AND age IS ? AND sex IS ?", m.Condition, m.Age, m.Sex)
}

func (t *Tx) FindSimilarSubjects(ctx context.Context, q core.SimilarQuery) ([]core.Subject, error) {
	var (
		preds []string
		args  []any
	)
	if q.Condition != nil {
		preds = append(preds, "condition = ?")
		args = append(args, *q.Condition)
	}
	if q.AgeMin != nil && q.AgeMax != nil {
		preds = append(preds, "age BETWEEN ? AND ?")
		args = append(args, *q.AgeMin, *q.AgeMax)
	}
	if q.Sex != nil {
		preds = append(preds, "sex = ?")
		args = append(args, *q.Sex)
	}
	if len(preds) == 0 {
		return []core.Subject{}, nil
	}
	args = append(args, q.Limit)

	return t.listSubjects(ctx, "find similar subjects",
		"SELECT "+subjectColumns+" FROM subjects WHERE "+strings.Join(preds, " OR ")+
			" ORDER BY subject_id LIMIT ?", args...)
}

func (t *Tx) ListSubjects(ctx context.Context, lp core.ListParams) ([]core.Subject, error) {
	return t.listSubjects(ctx, "list subjects",
		"SELECT "+subjectColumns+" FROM subjects ORDER BY subject_id LIMIT ? OFFSET ?", lp.Limit, lp.Offset)
}

func (t *Tx) CountSubjectSamples(ctx context.Context, id int64) (int64, error) {
	return t.count(ctx, `SELECT COUNT(*) FROM samples WHERE subject_id = ?`, id)
}

func (t *Tx) DeleteSubject(ctx context.Context, id int64) (bool, error) {
	return t.deleteOne(ctx, `DELETE FROM subjects WHERE subject_id = ?`, id)
}

// LockSubjectKey is a no-op: the single connection already serializes
// every transaction.
func (t *Tx) LockSubjectKey(ctx context.Context, key string) error {
	return nil
}

// --- samples ---

func (t *Tx) CreateSample(ctx context.Context, in core.SampleInput) (core.Sample, error) {
	s := core.Sample{
		ProjectID:              in.ProjectID,
		SubjectID:              in.SubjectID,
		ExternalID:             in.ExternalID,
		Treatment:              in.Treatment,
		Response:               in.Response,
		SampleType:             in.SampleType,
		TimeFromTreatmentStart: in.TimeFromTreatmentStart,
		CellCounts:             in.CellCounts,
	}
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO samples (project_id, subject_id, external_id, treatment, response, sample_type,
			time_from_treatment_start, b_cell, cd8_t_cell, cd4_t_cell, nk_cell, monocyte)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING sample_id`,
		in.ProjectID, in.SubjectID, in.ExternalID, in.Treatment, in.Response, in.SampleType,
		in.TimeFromTreatmentStart, in.BCell, in.CD8TCell, in.CD4TCell, in.NKCell, in.Monocyte,
	).Scan(&s.ID)
	if err != nil {
		return core.Sample{}, mapError("insert sample", err)
	}
	return s, nil
}

func scanSample(row scanner) (core.Sample, error) {
	var s core.Sample
	err := row.Scan(&s.ID, &s.ProjectID, &s.SubjectID, &s.ExternalID, &s.Treatment, &s.Response,
		&s.SampleType, &s.TimeFromTreatmentStart, &s.BCell, &s.CD8TCell, &s.CD4TCell, &s.NKCell, &s.Monocyte)
	return s, err
}

func (t *Tx) listSamples(ctx context.Context, op, query string, args ...any) ([]core.Sample, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	samples := []core.Sample{}
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		samples = append(samples, s)
	}
	return samples, mapError(op, rows.Err())
}

func (t *Tx) GetSample(ctx context.Context, id int64) (*core.Sample, error) {
	s, err := scanSample(t.tx.QueryRowContext(ctx,
		"SELECT "+sampleColumns+" FROM samples WHERE sample_id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError("get sample", err)
	}
	return &s, nil
}

func (t *Tx) ListSamples(ctx context.Context, f core.SampleFilter) ([]core.Sample, error) {
	var (
		preds []string
		args  []any
	)
	if f.ProjectID > 0 {
		preds = append(preds, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.SubjectID > 0 {
		preds = append(preds, "subject_id = ?")
		args = append(args, f.SubjectID)
	}
	if f.Treatment != nil {
		preds = append(preds, "treatment = ?")
		args = append(args, *f.Treatment)
	}
	if f.SampleType != nil {
		preds = append(preds, "sample_type = ?")
		args = append(args, *f.SampleType)
	}
	if f.Response != nil {
		preds = append(preds, "response = ?")
		args = append(args, *f.Response)
	}

	query := "SELECT " + sampleColumns + " FROM samples"
	if len(preds) > 0 {
		query += " WHERE " + strings.Join(preds, " AND ")
	}
	query += " ORDER BY sample_id LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	return t.listSamples(ctx, "list samples", query, args...)
}

func (t *Tx) DeleteSample(ctx context.Context, id int64) (bool, error) {
	return t.deleteOne(ctx, `DELETE FROM samples WHERE sample_id = ?`, id)
}

func (t *Tx) FindOrphanSamples(ctx context.Context) ([]core.Sample, error) {
	return t.listSamples(ctx, "find orphan samples",
		"SELECT "+sampleColumns+` FROM samples s
		 WHERE NOT EXISTS (SELECT 1 FROM projects p WHERE p.project_id = s.project_id)
		    OR NOT EXISTS (SELECT 1 FROM subjects j WHERE j.subject_id = s.subject_id)
		 ORDER BY sample_id`)
}

func (t *Tx) DeleteSamples(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	res, err := t.tx.ExecContext(ctx, "DELETE FROM samples WHERE sample_id IN ("+placeholders+")", args...)
	if err != nil {
		return 0, mapError("delete samples", err)
	}
	n, err := res.RowsAffected()
	return n, mapError("delete samples", err)
}

// --- analytics ---

func (t *Tx) Summary(ctx context.Context) (*core.Summary, error) {
	sum := &core.Summary{}

	err := t.tx.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM projects),
		(SELECT COUNT(*) FROM subjects),
		(SELECT COUNT(*) FROM samples),
		(SELECT COUNT(*) FROM samples WHERE response = 1),
		(SELECT COUNT(*) FROM samples WHERE response = 0),
		(SELECT AVG(age) FROM subjects)`,
	).Scan(&sum.Projects, &sum.Subjects, &sum.Samples, &sum.Responders, &sum.NonResponders, &sum.AverageAge)
	if err != nil {
		return nil, mapError("summary counts", err)
	}

	groups := []struct {
		dest  *[]core.CountBy
		query string
	}{
		{&sum.SubjectsByCondition, `SELECT COALESCE(condition, 'unknown'), COUNT(*) FROM subjects GROUP BY 1 ORDER BY 2 DESC, 1`},
		{&sum.SubjectsBySex, `SELECT COALESCE(sex, 'unknown'), COUNT(*) FROM subjects GROUP BY 1 ORDER BY 2 DESC, 1`},
		{&sum.SamplesByTreatment, `SELECT COALESCE(CAST(treatment AS TEXT), 'unknown'), COUNT(*) FROM samples GROUP BY 1 ORDER BY 2 DESC, 1`},
		{&sum.SamplesByType, `SELECT COALESCE(CAST(sample_type AS TEXT), 'unknown'), COUNT(*) FROM samples GROUP BY 1 ORDER BY 2 DESC, 1`},
	}
	for _, g := range groups {
		buckets, err := t.countBy(ctx, g.query)
		if err != nil {
			return nil, err
		}
		*g.dest = buckets
	}
	return sum, nil
}

func (t *Tx) countBy(ctx context.Context, query string) ([]core.CountBy, error) {
	rows, err := t.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, mapError("summary group", err)
	}
	defer rows.Close()

	buckets := []core.CountBy{}
	for rows.Next() {
		var b core.CountBy
		if err := rows.Scan(&b.Key, &b.Count); err != nil {
			return nil, mapError("summary group", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, mapError("summary group", rows.Err())
}

// --- helpers ---

func (t *Tx) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := t.tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, mapError("count", err)
	}
	return n, nil
}

func (t *Tx) deleteOne(ctx context.Context, query string, id int64) (bool, error) {
	res, err := t.tx.ExecContext(ctx, query, id)
	if err != nil {
		return false, mapError("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapError("delete", err)
	}
	return n > 0, nil
}
