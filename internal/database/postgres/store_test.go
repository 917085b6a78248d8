package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/JonMunkholm/immunoload/internal/core"
)

// openTest connects to TEST_DATABASE_URL. Every test works inside a
// transaction that is rolled back, so the database is left untouched.
func openTest(t *testing.T) core.Tx {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, url, PoolOptions{MaxConns: 4})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(s.Close)

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	t.Cleanup(func() { tx.Rollback(context.Background()) })
	return tx
}

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }

func TestCreateAndFind(t *testing.T) {
	ctx := context.Background()
	tx := openTest(t)

	p, err := tx.CreateProject(ctx, strp("prj-test"))
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	if p.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero")
	}

	subj, err := tx.CreateSubject(ctx, core.SubjectInput{Condition: strp("pg-test-condition")})
	if err != nil {
		t.Fatalf("CreateSubject() error = %v", err)
	}
	if err := tx.LockSubjectKey(ctx, "pg-test-condition||"); err != nil {
		t.Fatalf("LockSubjectKey() error = %v", err)
	}

	got, err := tx.FindSubjectExact(ctx, core.SubjectMatch{Condition: strp("pg-test-condition")})
	if err != nil {
		t.Fatalf("FindSubjectExact() error = %v", err)
	}
	if got == nil || got.ID != subj.ID {
		t.Fatalf("FindSubjectExact() = %+v, want subject %d", got, subj.ID)
	}

	no := false
	sample, err := tx.CreateSample(ctx, core.SampleInput{ProjectID: p.ID, SubjectID: subj.ID, Response: &no, Treatment: intp(2)})
	if err != nil {
		t.Fatalf("CreateSample() error = %v", err)
	}
	gotSample, err := tx.GetSample(ctx, sample.ID)
	if err != nil || gotSample == nil {
		t.Fatalf("GetSample() = %v, %v", gotSample, err)
	}
	if gotSample.Response == nil || *gotSample.Response {
		t.Errorf("Response = %v, want false", gotSample.Response)
	}
	if gotSample.SampleType != nil {
		t.Errorf("SampleType = %v, want nil", *gotSample.SampleType)
	}

	deleted, err := tx.DeleteProject(ctx, p.ID)
	if err != nil || !deleted {
		t.Fatalf("DeleteProject() = %v, %v", deleted, err)
	}
	if gone, _ := tx.GetSample(ctx, sample.ID); gone != nil {
		t.Error("sample survived project deletion")
	}
}

func TestSavepointKeepsTransactionUsable(t *testing.T) {
	ctx := context.Background()
	tx := openTest(t)

	if err := tx.Savepoint(ctx, "row_1"); err != nil {
		t.Fatalf("Savepoint() error = %v", err)
	}
	_, err := tx.CreateSample(ctx, core.SampleInput{ProjectID: -1, SubjectID: -1})
	if !core.IsKind(err, core.ErrIntegrity) {
		t.Fatalf("CreateSample() kind = %q (%v), want integrity", core.KindOf(err), err)
	}
	if err := tx.RollbackTo(ctx, "row_1"); err != nil {
		t.Fatalf("RollbackTo() error = %v", err)
	}
	if _, err := tx.CreateProject(ctx, nil); err != nil {
		t.Errorf("CreateProject() after RollbackTo error = %v", err)
	}
}
