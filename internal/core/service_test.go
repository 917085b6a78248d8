package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JonMunkholm/immunoload/internal/core"
)

func newService(t *testing.T) *core.Service {
	t.Helper()
	return core.NewService(newStore(t), core.ServiceConfig{
		Ingest: core.IngestOptions{Logger: quietLogger()},
	})
}

func TestService_CreateSubjectDuplicate(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	in := core.SubjectInput{Condition: strp(" melanoma "), Age: intp(50), Sex: strp("female")}

	first, err := svc.CreateSubject(ctx, in, false)
	if err != nil {
		t.Fatalf("CreateSubject() error = %v", err)
	}
	if *first.Subject.Condition != "melanoma" || *first.Subject.Sex != "F" {
		t.Errorf("subject = %q/%q, want normalized melanoma/F", *first.Subject.Condition, *first.Subject.Sex)
	}

	_, err = svc.CreateSubject(ctx, core.SubjectInput{Condition: strp("melanoma"), Age: intp(50), Sex: strp("F")}, false)
	var ce *core.Error
	if !errors.As(err, &ce) || ce.Kind != core.ErrConflict {
		t.Fatalf("duplicate CreateSubject() error = %v, want conflict", err)
	}
	if ce.Existing == nil || ce.Existing.ID != first.Subject.ID {
		t.Errorf("Existing = %+v, want subject %d", ce.Existing, first.Subject.ID)
	}

	second, err := svc.CreateSubject(ctx, in, true)
	if err != nil {
		t.Fatalf("CreateSubject(allowDuplicates) error = %v", err)
	}
	if second.Warning == "" {
		t.Error("Warning is empty, want duplicate warning")
	}
	if len(second.Similar) != 1 || second.Similar[0].ID != first.Subject.ID {
		t.Errorf("Similar = %+v, want the first subject only", second.Similar)
	}
}

func TestService_CreateSubjectValidation(t *testing.T) {
	svc := newService(t)
	long := make([]byte, core.MaxConditionLength+1)
	for i := range long {
		long[i] = 'x'
	}

	tests := []struct {
		name  string
		in    core.SubjectInput
		field string
	}{
		{"age below range", core.SubjectInput{Age: intp(-1)}, core.ColAge},
		{"age above range", core.SubjectInput{Age: intp(151)}, core.ColAge},
		{"unknown sex", core.SubjectInput{Sex: strp("X")}, core.ColSex},
		{"condition too long", core.SubjectInput{Condition: strp(string(long))}, core.ColCondition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateSubject(context.Background(), tt.in, false)
			var ce *core.Error
			if !errors.As(err, &ce) || ce.Kind != core.ErrValidation {
				t.Fatalf("CreateSubject() error = %v, want validation", err)
			}
			if len(ce.Fields) != 1 || ce.Fields[0].Field != tt.field {
				t.Errorf("Fields = %+v, want one error on %s", ce.Fields, tt.field)
			}
		})
	}

	for _, age := range []int{0, 150} {
		if _, err := svc.CreateSubject(context.Background(), core.SubjectInput{Age: intp(age)}, true); err != nil {
			t.Errorf("CreateSubject(age %d) error = %v", age, err)
		}
	}
}

func TestService_CreateSubjectsBatch(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	tooMany := make([]core.SubjectInput, core.MaxSubjectBatch+1)
	if _, err := svc.CreateSubjectsBatch(ctx, tooMany, true); !core.IsKind(err, core.ErrValidation) {
		t.Errorf("oversized batch kind = %q, want validation", core.KindOf(err))
	}

	_, err := svc.CreateSubjectsBatch(ctx, []core.SubjectInput{{Age: intp(20)}, {Age: intp(200)}}, false)
	var ce *core.Error
	if !errors.As(err, &ce) || len(ce.Items) != 1 || ce.Items[0].Index != 1 {
		t.Fatalf("invalid batch error = %v, want one item error at index 1", err)
	}

	created, err := svc.CreateSubjectsBatch(ctx, []core.SubjectInput{
		{Condition: strp("healthy"), Age: intp(20)},
		{Condition: strp("healthy"), Age: intp(21)},
	}, false)
	if err != nil || len(created) != 2 {
		t.Fatalf("CreateSubjectsBatch() = %d, %v, want 2 subjects", len(created), err)
	}

	_, err = svc.CreateSubjectsBatch(ctx, []core.SubjectInput{
		{Condition: strp("healthy"), Age: intp(30)},
		{Condition: strp("healthy"), Age: intp(21)},
	}, false)
	if !errors.As(err, &ce) || ce.Kind != core.ErrConflict {
		t.Fatalf("duplicate batch error = %v, want conflict", err)
	}
	if len(ce.Items) != 1 || ce.Items[0].Index != 1 || ce.Items[0].ExistingID != created[1].ID {
		t.Errorf("Items = %+v, want index 1 matching subject %d", ce.Items, created[1].ID)
	}

	subjects, _ := svc.ListSubjects(ctx, core.ListParams{})
	if len(subjects) != 2 {
		t.Errorf("subjects after failed batch = %d, want 2", len(subjects))
	}
}

func TestService_CheckDuplicate(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	if _, err := svc.CreateSubject(ctx, core.SubjectInput{Condition: strp("healthy"), Age: intp(40), Sex: strp("M")}, false); err != nil {
		t.Fatal(err)
	}

	check, err := svc.CheckDuplicate(ctx, core.SubjectInput{Condition: strp("healthy"), Age: intp(40), Sex: strp("male")})
	if err != nil {
		t.Fatalf("CheckDuplicate() error = %v", err)
	}
	if !check.HasDuplicate || check.SimilarCount != 1 {
		t.Errorf("check = %+v, want duplicate with one similar", check)
	}

	check, err = svc.CheckDuplicate(ctx, core.SubjectInput{Age: intp(44)})
	if err != nil {
		t.Fatalf("CheckDuplicate() error = %v", err)
	}
	if check.HasDuplicate || check.SimilarCount != 1 {
		t.Errorf("check = %+v, want no duplicate and one similar by age", check)
	}
}

func TestService_CreateSample(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	project, err := svc.CreateProject(ctx, strp("prj1"))
	if err != nil {
		t.Fatal(err)
	}
	subject, err := svc.CreateSubject(ctx, core.SubjectInput{}, true)
	if err != nil {
		t.Fatal(err)
	}

	_, err = svc.CreateSample(ctx, core.SampleInput{ProjectID: project.ID, SubjectID: subject.Subject.ID + 10})
	if !core.IsKind(err, core.ErrNotFound) {
		t.Errorf("CreateSample(missing subject) kind = %q, want not_found", core.KindOf(err))
	}

	_, err = svc.CreateSample(ctx, core.SampleInput{ProjectID: project.ID, SubjectID: subject.Subject.ID, SampleType: intp(0)})
	if !core.IsKind(err, core.ErrValidation) {
		t.Errorf("CreateSample(sample_type 0) kind = %q, want validation", core.KindOf(err))
	}

	sample, err := svc.CreateSample(ctx, core.SampleInput{ProjectID: project.ID, SubjectID: subject.Subject.ID, Treatment: intp(1)})
	if err != nil {
		t.Fatalf("CreateSample() error = %v", err)
	}
	got, err := svc.GetSample(ctx, sample.ID)
	if err != nil || got.ProjectID != project.ID {
		t.Errorf("GetSample() = %+v, %v", got, err)
	}

	_, err = svc.CreateSamplesBatch(ctx, []core.SampleInput{
		{ProjectID: project.ID, SubjectID: subject.Subject.ID},
		{ProjectID: 999, SubjectID: subject.Subject.ID},
	})
	var ce *core.Error
	if !errors.As(err, &ce) || ce.Kind != core.ErrNotFound || len(ce.Items) != 1 || ce.Items[0].Index != 1 {
		t.Errorf("CreateSamplesBatch(missing parent) error = %v, want not_found at index 1", err)
	}

	samples, _ := svc.ListSamples(ctx, core.SampleFilter{ProjectID: project.ID})
	if len(samples) != 1 {
		t.Errorf("samples = %d, want 1", len(samples))
	}
}

func TestService_Impact(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	if _, err := svc.Impact(ctx, core.KindSubject, 7); !core.IsKind(err, core.ErrNotFound) {
		t.Errorf("Impact(missing) kind = %q, want not_found", core.KindOf(err))
	}
	if _, err := svc.GetProject(ctx, 7); !core.IsKind(err, core.ErrNotFound) {
		t.Errorf("GetProject(missing) kind = %q, want not_found", core.KindOf(err))
	}
}

func TestService_StartIngest(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	src := records([]string{"project", "subject"}, []string{"p1", "s1"}, []string{"p1", "s2"})

	runID, err := svc.StartIngest(ctx, src, "upload.csv", core.IngestOptions{})
	if err != nil {
		t.Fatalf("StartIngest() error = %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	result, err := svc.GetRunResult(waitCtx, runID)
	if err != nil {
		t.Fatalf("GetRunResult() error = %v", err)
	}
	if !result.Success || result.Stats.SamplesCreated != 2 {
		t.Errorf("result = %+v, want success with 2 samples", result)
	}

	progress, err := svc.GetRunProgress(runID)
	if err != nil {
		t.Fatalf("GetRunProgress() error = %v", err)
	}
	if progress.Phase != core.PhaseComplete || progress.Source != "upload.csv" {
		t.Errorf("progress = %+v, want complete for upload.csv", progress)
	}

	ch, err := svc.SubscribeProgress(runID)
	if err != nil {
		t.Fatalf("SubscribeProgress() error = %v", err)
	}
	var last core.RunProgress
	for p := range ch {
		last = p
	}
	if last.Phase != core.PhaseComplete {
		t.Errorf("last streamed phase = %q, want complete", last.Phase)
	}

	if err := svc.WaitForRuns(waitCtx); err != nil {
		t.Errorf("WaitForRuns() error = %v", err)
	}
	if !src.closed {
		t.Error("source was not closed")
	}
}

func TestService_UnknownRun(t *testing.T) {
	svc := newService(t)
	if _, err := svc.GetRunProgress("nope"); !core.IsKind(err, core.ErrNotFound) {
		t.Errorf("GetRunProgress() kind = %q, want not_found", core.KindOf(err))
	}
	if err := svc.CancelRun("nope"); !core.IsKind(err, core.ErrNotFound) {
		t.Errorf("CancelRun() kind = %q, want not_found", core.KindOf(err))
	}
}
