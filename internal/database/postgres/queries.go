package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/immunoload/internal/core"
	"github.com/jackc/pgx/v5"
)

const (
	projectColumns = "project_id, external_id, created_at"
	subjectColumns = "subject_id, external_id, condition, age, sex, created_at"
	sampleColumns  = "sample_id, project_id, subject_id, external_id, treatment, response, sample_type, " +
		"time_from_treatment_start, b_cell, cd8_t_cell, cd4_t_cell, nk_cell, monocyte"
)

// args accumulates positional parameters and hands out $n placeholders.
type args []any

func (a *args) add(v any) string {
	*a = append(*a, v)
	return fmt.Sprintf("$%d", len(*a))
}

// --- projects ---

func (t *Tx) CreateProject(ctx context.Context, externalID *string) (core.Project, error) {
	p := core.Project{ExternalID: externalID}
	err := t.tx.QueryRow(ctx,
		`INSERT INTO projects (external_id) VALUES ($1) RETURNING project_id, created_at`,
		externalID,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return core.Project{}, mapError("insert project", err)
	}
	return p, nil
}

func scanProject(row pgx.Row) (core.Project, error) {
	var p core.Project
	err := row.Scan(&p.ID, &p.ExternalID, &p.CreatedAt)
	return p, err
}

func (t *Tx) GetProject(ctx context.Context, id int64) (*core.Project, error) {
	p, err := scanProject(t.tx.QueryRow(ctx,
		"SELECT "+projectColumns+" FROM projects WHERE project_id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError("get project", err)
	}
	return &p, nil
}

func (t *Tx) ListProjects(ctx context.Context, lp core.ListParams) ([]core.Project, error) {
	rows, err := t.tx.Query(ctx,
		"SELECT "+projectColumns+" FROM projects ORDER BY project_id LIMIT $1 OFFSET $2",
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
	return t.count(ctx, `SELECT COUNT(*) FROM samples WHERE project_id = $1`, id)
}

func (t *Tx) DeleteProject(ctx context.Context, id int64) (bool, error) {
	return t.deleteOne(ctx, `DELETE FROM projects WHERE project_id = $1`, id)
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
	err := t.tx.QueryRow(ctx,
		`INSERT INTO subjects (external_id, condition, age, sex, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING subject_id`,
		in.ExternalID, in.Condition, in.Age, in.Sex, s.CreatedAt,
	).Scan(&s.ID)
	if err != nil {
		return core.Subject{}, mapError("insert subject", err)
	}
	return s, nil
}

func scanSubject(row pgx.Row) (core.Subject, error) {
	var s core.Subject
	err := row.Scan(&s.ID, &s.ExternalID, &s.Condition, &s.Age, &s.Sex, &s.CreatedAt)
	return s, err
}

func (t *Tx) getSubject(ctx context.Context, op, where string, params ...any) (*core.Subject, error) {
	s, err := scanSubject(t.tx.QueryRow(ctx,
		"SELECT "+subjectColumns+" FROM subjects WHERE "+where+" ORDER BY subject_id LIMIT 1", params...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(op, err)
	}
	return &s, nil
}

func (t *Tx) listSubjects(ctx context.Context, op, query string, params ...any) ([]core.Subject, error) {
	rows, err := t.tx.Query(ctx, query, params...)
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
	return t.getSubject(ctx, "get subject", "subject_id = $1", id)
}

func (t *Tx) GetSubjectByExternalID(ctx context.Context, externalID string) (*core.Subject, error) {
	return t.getSubject(ctx, "get subject by external id", "external_id = $1", externalID)
}

func (t *Tx) FindSubjectExact(ctx context.Context, m core.SubjectMatch) (*core.Subject, error) {
	return t.getSubject(ctx, "find subject",
		"condition IS NOT DISTINCT FROM $1 AND age IS NOT DISTINCT FROM $2 AND sex IS NOT DISTINCT FROM $3",
		m.Condition, m.Age, m.Sex)
}

func (t *Tx) FindSimilarSubjects(ctx context.Context, q core.SimilarQuery) ([]core.Subject, error) {
	var (
		preds  []string
		params args
	)
	if q.Condition != nil {
		preds = append(preds, "condition = "+params.add(*q.Condition))
	}
	if q.AgeMin != nil && q.AgeMax != nil {
		preds = append(preds, "age BETWEEN "+params.add(*q.AgeMin)+" AND "+params.add(*q.AgeMax))
	}
	if q.Sex != nil {
		preds = append(preds, "sex = "+params.add(*q.Sex))
	}
	if len(preds) == 0 {
		return []core.Subject{}, nil
	}
	limit := params.add(q.Limit)

	return t.listSubjects(ctx, "find similar subjects",
		"SELECT "+subjectColumns+" FROM subjects WHERE "+strings.Join(preds, " OR ")+
			" ORDER BY subject_id LIMIT "+limit, params...)
}

func (t *Tx) ListSubjects(ctx context.Context, lp core.ListParams) ([]core.Subject, error) {
	return t.listSubjects(ctx, "list subjects",
		"SELECT "+subjectColumns+" FROM subjects ORDER BY subject_id LIMIT $1 OFFSET $2", lp.Limit, lp.Offset)
}

func (t *Tx) CountSubjectSamples(ctx context.Context, id int64) (int64, error) {
	return t.count(ctx, `SELECT COUNT(*) FROM samples WHERE subject_id = $1`, id)
}

func (t *Tx) DeleteSubject(ctx context.Context, id int64) (bool, error) {
	return t.deleteOne(ctx, `DELETE FROM subjects WHERE subject_id = $1`, id)
}

// LockSubjectKey takes a transaction-scoped advisory lock on the key so
// concurrent runs cannot both create the same subject.
func (t *Tx) LockSubjectKey(ctx context.Context, key string) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key)
	return mapError("lock subject key", err)
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
	err := t.tx.QueryRow(ctx,
		`INSERT INTO samples (project_id, subject_id, external_id, treatment, response, sample_type,
			time_from_treatment_start, b_cell, cd8_t_cell, cd4_t_cell, nk_cell, monocyte)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING sample_id`,
		in.ProjectID, in.SubjectID, in.ExternalID, in.Treatment, in.Response, in.SampleType,
		in.TimeFromTreatmentStart, in.BCell, in.CD8TCell, in.CD4TCell, in.NKCell, in.Monocyte,
	).Scan(&s.ID)
	if err != nil {
		return core.Sample{}, mapError("insert sample", err)
	}
	return s, nil
}

func scanSample(row pgx.Row) (core.Sample, error) {
	var s core.Sample
	err := row.Scan(&s.ID, &s.ProjectID, &s.SubjectID, &s.ExternalID, &s.Treatment, &s.Response,
		&s.SampleType, &s.TimeFromTreatmentStart, &s.BCell, &s.CD8TCell, &s.CD4TCell, &s.NKCell, &s.Monocyte)
	return s, err
}

func (t *Tx) listSamples(ctx context.Context, op, query string, params ...any) ([]core.Sample, error) {
	rows, err := t.tx.Query(ctx, query, params...)
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
	s, err := scanSample(t.tx.QueryRow(ctx,
		"SELECT "+sampleColumns+" FROM samples WHERE sample_id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError("get sample", err)
	}
	return &s, nil
}

func (t *Tx) ListSamples(ctx context.Context, f core.SampleFilter) ([]core.Sample, error) {
	var (
		preds  []string
		params args
	)
	if f.ProjectID > 0 {
		preds = append(preds, "project_id = "+params.add(f.ProjectID))
	}
	if f.SubjectID > 0 {
		preds = append(preds, "subject_id = "+params.add(f.SubjectID))
	}
	if f.Treatment != nil {
		preds = append(preds, "treatment = "+params.add(*f.Treatment))
	}
	if f.SampleType != nil {
		preds = append(preds, "sample_type = "+params.add(*f.SampleType))
	}
	if f.Response != nil {
		preds = append(preds, "response = "+params.add(*f.Response))
	}

	query := "SELECT " + sampleColumns + " FROM samples"
	if len(preds) > 0 {
		query += " WHERE " + strings.Join(preds, " AND ")
	}
	query += " ORDER BY sample_id LIMIT " + params.add(f.Limit) + " OFFSET " + params.add(f.Offset)

	return t.listSamples(ctx, "list samples", query, params...)
}

func (t *Tx) DeleteSample(ctx context.Context, id int64) (bool, error) {
	return t.deleteOne(ctx, `DELETE FROM samples WHERE sample_id = $1`, id)
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
	tag, err := t.tx.Exec(ctx, `DELETE FROM samples WHERE sample_id = ANY($1)`, ids)
	if err != nil {
		return 0, mapError("delete samples", err)
	}
	return tag.RowsAffected(), nil
}

// --- analytics ---

func (t *Tx) Summary(ctx context.Context) (*core.Summary, error) {
	sum := &core.Summary{}

	err := t.tx.QueryRow(ctx, `SELECT
		(SELECT COUNT(*) FROM projects),
		(SELECT COUNT(*) FROM subjects),
		(SELECT COUNT(*) FROM samples),
		(SELECT COUNT(*) FROM samples WHERE response),
		(SELECT COUNT(*) FROM samples WHERE NOT response),
		(SELECT AVG(age)::float8 FROM subjects)`,
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
		{&sum.SamplesByTreatment, `SELECT COALESCE(treatment::text, 'unknown'), COUNT(*) FROM samples GROUP BY 1 ORDER BY 2 DESC, 1`},
		{&sum.SamplesByType, `SELECT COALESCE(sample_type::text, 'unknown'), COUNT(*) FROM samples GROUP BY 1 ORDER BY 2 DESC, 1`},
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
	rows, err := t.tx.Query(ctx, query)
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

func (t *Tx) count(ctx context.Context, query string, params ...any) (int64, error) {
	var n int64
	if err := t.tx.QueryRow(ctx, query, params...).Scan(&n); err != nil {
		return 0, mapError("count", err)
	}
	return n, nil
}

func (t *Tx) deleteOne(ctx context.Context, query string, id int64) (bool, error) {
	tag, err := t.tx.Exec(ctx, query, id)
	if err != nil {
		return false, mapError("delete", err)
	}
	return tag.RowsAffected() > 0, nil
}
