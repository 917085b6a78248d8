package core_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/JonMunkholm/immunoload/internal/core"
	"github.com/JonMunkholm/immunoload/internal/database/sqlite"
)

// newStore returns an empty in-memory store closed at test end.
func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("sqlite.Open() error = %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sliceReader serves in-memory records as a core.RecordReader.
type sliceReader struct {
	header []string
	rows   [][]string
	pos    int
	closed bool
}

func records(header []string, rows ...[]string) *sliceReader {
	return &sliceReader{header: header, rows: rows}
}

func (r *sliceReader) Header() []string { return r.header }

func (r *sliceReader) Next() ([]string, error) {
	if r.pos >= len(r.rows) {
		return nil, io.EOF
	}
	row := r.rows[r.pos]
	r.pos++
	return row, nil
}

func (r *sliceReader) Close() error {
	r.closed = true
	return nil
}

// seed creates one project and one subject with n samples and returns
// their ids.
func seed(t *testing.T, store core.Store, n int) (projectID, subjectID int64) {
	t.Helper()
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	defer tx.Rollback(ctx)

	p, err := tx.CreateProject(ctx, nil)
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	s, err := tx.CreateSubject(ctx, core.SubjectInput{})
	if err != nil {
		t.Fatalf("CreateSubject() error = %v", err)
	}
	for i := 0; i < n; i++ {
		if _, err := tx.CreateSample(ctx, core.SampleInput{ProjectID: p.ID, SubjectID: s.ID}); err != nil {
			t.Fatalf("CreateSample() error = %v", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	return p.ID, s.ID
}

// summary reads the store totals.
func summary(t *testing.T, store core.Store) *core.Summary {
	t.Helper()
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	defer tx.Rollback(ctx)

	sum, err := tx.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	return sum
}

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }
