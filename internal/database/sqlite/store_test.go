package sqlite

import (
	"context"
	"testing"

	"github.com/JonMunkholm/immunoload/internal/core"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func begin(t *testing.T, s *Store) core.Tx {
	t.Helper()
	tx, err := s.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	t.Cleanup(func() { tx.Rollback(context.Background()) })
	return tx
}

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	tx := begin(t, openTest(t))

	p, err := tx.CreateProject(ctx, strp("prj1"))
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	subj, err := tx.CreateSubject(ctx, core.SubjectInput{Condition: strp("melanoma"), Age: intp(42), Sex: strp("F")})
	if err != nil {
		t.Fatalf("CreateSubject() error = %v", err)
	}
	resp := true
	sample, err := tx.CreateSample(ctx, core.SampleInput{
		ProjectID:  p.ID,
		SubjectID:  subj.ID,
		Treatment:  intp(1),
		Response:   &resp,
		CellCounts: core.CellCounts{BCell: intp(36000)},
	})
	if err != nil {
		t.Fatalf("CreateSample() error = %v", err)
	}

	gotP, err := tx.GetProject(ctx, p.ID)
	if err != nil || gotP == nil {
		t.Fatalf("GetProject() = %v, %v", gotP, err)
	}
	if gotP.ExternalID == nil || *gotP.ExternalID != "prj1" {
		t.Errorf("project ExternalID = %v, want prj1", gotP.ExternalID)
	}
	if gotP.CreatedAt.IsZero() {
		t.Error("project CreatedAt is zero")
	}

	gotS, err := tx.GetSample(ctx, sample.ID)
	if err != nil || gotS == nil {
		t.Fatalf("GetSample() = %v, %v", gotS, err)
	}
	if gotS.Response == nil || !*gotS.Response {
		t.Errorf("sample Response = %v, want true", gotS.Response)
	}
	if gotS.SampleType != nil {
		t.Errorf("sample SampleType = %v, want nil", *gotS.SampleType)
	}
	if gotS.BCell == nil || *gotS.BCell != 36000 {
		t.Errorf("sample BCell = %v, want 36000", gotS.BCell)
	}

	missing, err := tx.GetSubject(ctx, subj.ID+100)
	if err != nil || missing != nil {
		t.Errorf("GetSubject(missing) = %v, %v, want nil, nil", missing, err)
	}
}

func TestFindSubjectExact_NullSafe(t *testing.T) {
	ctx := context.Background()
	tx := begin(t, openTest(t))

	withNulls, err := tx.CreateSubject(ctx, core.SubjectInput{Condition: strp("healthy")})
	if err != nil {
		t.Fatalf("CreateSubject() error = %v", err)
	}
	if _, err := tx.CreateSubject(ctx, core.SubjectInput{Condition: strp("healthy"), Age: intp(30)}); err != nil {
		t.Fatalf("CreateSubject() error = %v", err)
	}

	got, err := tx.FindSubjectExact(ctx, core.SubjectMatch{Condition: strp("healthy")})
	if err != nil {
		t.Fatalf("FindSubjectExact() error = %v", err)
	}
	if got == nil || got.ID != withNulls.ID {
		t.Fatalf("FindSubjectExact() = %+v, want subject %d", got, withNulls.ID)
	}

	got, err = tx.FindSubjectExact(ctx, core.SubjectMatch{Condition: strp("healthy"), Sex: strp("M")})
	if err != nil || got != nil {
		t.Errorf("FindSubjectExact(sex M) = %+v, %v, want nil", got, err)
	}
}

func TestDeleteProject_Cascades(t *testing.T) {
	ctx := context.Background()
	tx := begin(t, openTest(t))

	p, _ := tx.CreateProject(ctx, nil)
	subj, _ := tx.CreateSubject(ctx, core.SubjectInput{})
	for i := 0; i < 3; i++ {
		if _, err := tx.CreateSample(ctx, core.SampleInput{ProjectID: p.ID, SubjectID: subj.ID}); err != nil {
			t.Fatalf("CreateSample() error = %v", err)
		}
	}

	n, err := tx.CountProjectSamples(ctx, p.ID)
	if err != nil || n != 3 {
		t.Fatalf("CountProjectSamples() = %d, %v, want 3", n, err)
	}

	deleted, err := tx.DeleteProject(ctx, p.ID)
	if err != nil || !deleted {
		t.Fatalf("DeleteProject() = %v, %v, want true", deleted, err)
	}
	if n, _ := tx.CountSubjectSamples(ctx, subj.ID); n != 0 {
		t.Errorf("samples after cascade = %d, want 0", n)
	}

	deleted, err = tx.DeleteProject(ctx, p.ID)
	if err != nil || deleted {
		t.Errorf("second DeleteProject() = %v, %v, want false", deleted, err)
	}
}

func TestCreateSample_MissingParentIsIntegrity(t *testing.T) {
	ctx := context.Background()
	tx := begin(t, openTest(t))

	_, err := tx.CreateSample(ctx, core.SampleInput{ProjectID: 999, SubjectID: 999})
	if !core.IsKind(err, core.ErrIntegrity) {
		t.Fatalf("CreateSample() error kind = %q (%v), want integrity", core.KindOf(err), err)
	}
}

func TestSavepointRollback(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	tx := begin(t, s)

	if _, err := tx.CreateProject(ctx, strp("kept")); err != nil {
		t.Fatal(err)
	}
	if err := tx.Savepoint(ctx, "row"); err != nil {
		t.Fatalf("Savepoint() error = %v", err)
	}
	if _, err := tx.CreateProject(ctx, strp("dropped")); err != nil {
		t.Fatal(err)
	}
	if err := tx.RollbackTo(ctx, "row"); err != nil {
		t.Fatalf("RollbackTo() error = %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Errorf("Rollback() after Commit = %v, want nil", err)
	}

	rtx := begin(t, s)
	projects, err := rtx.ListProjects(ctx, core.ListParams{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(projects) != 1 || *projects[0].ExternalID != "kept" {
		t.Errorf("projects = %+v, want only kept", projects)
	}
}

func TestFindOrphanSamples(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	if _, err := s.DB().ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.DB().ExecContext(ctx, "INSERT INTO samples (project_id, subject_id) VALUES (41, 42)"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.DB().ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		t.Fatal(err)
	}

	tx := begin(t, s)
	orphans, err := tx.FindOrphanSamples(ctx)
	if err != nil {
		t.Fatalf("FindOrphanSamples() error = %v", err)
	}
	if len(orphans) != 1 || orphans[0].ProjectID != 41 {
		t.Fatalf("orphans = %+v, want one sample of project 41", orphans)
	}
	n, err := tx.DeleteSamples(ctx, []int64{orphans[0].ID})
	if err != nil || n != 1 {
		t.Errorf("DeleteSamples() = %d, %v, want 1", n, err)
	}
}

func TestSummary(t *testing.T) {
	ctx := context.Background()
	tx := begin(t, openTest(t))

	p, _ := tx.CreateProject(ctx, nil)
	a, _ := tx.CreateSubject(ctx, core.SubjectInput{Condition: strp("melanoma"), Age: intp(40), Sex: strp("M")})
	b, _ := tx.CreateSubject(ctx, core.SubjectInput{Condition: strp("melanoma"), Age: intp(60), Sex: strp("F")})
	yes, no := true, false
	tx.CreateSample(ctx, core.SampleInput{ProjectID: p.ID, SubjectID: a.ID, Treatment: intp(1), Response: &yes})
	tx.CreateSample(ctx, core.SampleInput{ProjectID: p.ID, SubjectID: b.ID, Treatment: intp(1), Response: &no})
	tx.CreateSample(ctx, core.SampleInput{ProjectID: p.ID, SubjectID: b.ID})

	sum, err := tx.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if sum.Projects != 1 || sum.Subjects != 2 || sum.Samples != 3 {
		t.Errorf("counts = %d/%d/%d, want 1/2/3", sum.Projects, sum.Subjects, sum.Samples)
	}
	if sum.Responders != 1 || sum.NonResponders != 1 {
		t.Errorf("responders = %d/%d, want 1/1", sum.Responders, sum.NonResponders)
	}
	if sum.AverageAge == nil || *sum.AverageAge != 50 {
		t.Errorf("AverageAge = %v, want 50", sum.AverageAge)
	}
	if len(sum.SubjectsByCondition) != 1 || sum.SubjectsByCondition[0] != (core.CountBy{Key: "melanoma", Count: 2}) {
		t.Errorf("SubjectsByCondition = %+v", sum.SubjectsByCondition)
	}
	if len(sum.SamplesByTreatment) != 2 || sum.SamplesByTreatment[0] != (core.CountBy{Key: "1", Count: 2}) {
		t.Errorf("SamplesByTreatment = %+v", sum.SamplesByTreatment)
	}
}
