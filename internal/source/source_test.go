package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/JonMunkholm/immunoload/internal/core"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xuri/excelize/v2"
)

func readAll(t *testing.T, src core.RecordSource) [][]string {
	t.Helper()
	var rows [][]string
	for {
		rec, err := src.Next()
		if err == io.EOF {
			return rows
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		rows = append(rows, rec)
	}
}

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

// ============================================================================
// CSV
// ============================================================================

func TestCSV(t *testing.T) {
	input := "\xEF\xBB\xBFproject,subject,age\nprj1,sbj1,42\nprj1, sbj2\n"
	body := &closeTracker{Reader: strings.NewReader(input)}

	c, err := NewCSV(body)
	if err != nil {
		t.Fatalf("NewCSV() error = %v", err)
	}
	if want := []string{"project", "subject", "age"}; !reflect.DeepEqual(c.Header(), want) {
		t.Errorf("Header() = %q, want %q", c.Header(), want)
	}

	want := [][]string{{"prj1", "sbj1", "42"}, {"prj1", "sbj2"}}
	if got := readAll(t, c); !reflect.DeepEqual(got, want) {
		t.Errorf("rows = %q, want %q", got, want)
	}

	if err := c.Close(); err != nil || !body.closed {
		t.Errorf("Close() = %v, closed = %v", err, body.closed)
	}
}

func TestCSV_Empty(t *testing.T) {
	body := &closeTracker{Reader: strings.NewReader("")}
	_, err := NewCSV(body)
	if !core.IsKind(err, core.ErrValidation) {
		t.Fatalf("NewCSV(empty) error = %v, want validation", err)
	}
	if !body.closed {
		t.Error("reader not closed after failed open")
	}
}

// ============================================================================
// XLSX
// ============================================================================

func workbook(t *testing.T, rows ...[]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("SetSheetRow() error = %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer() error = %v", err)
	}
	return buf.Bytes()
}

func TestXLSX(t *testing.T) {
	data := workbook(t,
		[]any{"project", "subject", "age"},
		[]any{"prj1", "sbj1", 42},
		[]any{"prj1", "sbj2", 7},
	)

	x, err := NewXLSX(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewXLSX() error = %v", err)
	}
	defer x.Close()

	if want := []string{"project", "subject", "age"}; !reflect.DeepEqual(x.Header(), want) {
		t.Errorf("Header() = %q, want %q", x.Header(), want)
	}
	want := [][]string{{"prj1", "sbj1", "42"}, {"prj1", "sbj2", "7"}}
	if got := readAll(t, x); !reflect.DeepEqual(got, want) {
		t.Errorf("rows = %q, want %q", got, want)
	}
}

func TestXLSX_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"no rows", workbook(t)},
		{"not a workbook", []byte("project,subject\n")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewXLSX(bytes.NewReader(tt.data))
			if !core.IsKind(err, core.ErrValidation) {
				t.Errorf("NewXLSX() error = %v, want validation", err)
			}
		})
	}
}

// ============================================================================
// Opening
// ============================================================================

func TestFormatOf(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"cell-count.csv", FormatCSV, false},
		{"Data/Cell-Count.CSV", FormatCSV, false},
		{"cell-count.xlsx", FormatXLSX, false},
		{"cell-count.json", "", true},
		{"noext", "", true},
	}
	for _, tt := range tests {
		got, err := FormatOf(tt.name)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("FormatOf(%q) = %q, %v, want %q (err %v)", tt.name, got, err, tt.want, tt.wantErr)
		}
		if err != nil && !core.IsKind(err, core.ErrValidation) {
			t.Errorf("FormatOf(%q) error kind = %q, want validation", tt.name, core.KindOf(err))
		}
	}
}

func TestFromReader_UnsupportedClosesReader(t *testing.T) {
	body := &closeTracker{Reader: strings.NewReader("{}")}
	src, err := FromReader("upload.json", body)
	if err == nil || src != nil {
		t.Fatalf("FromReader() = %v, %v, want error", src, err)
	}
	if !body.closed {
		t.Error("reader not closed")
	}
}

func TestOpener_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cells.csv")
	if err := os.WriteFile(path, []byte("project,subject\nprj1,sbj1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	o := &Opener{}
	src, err := o.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer src.Close()
	if got := readAll(t, src); len(got) != 1 {
		t.Errorf("rows = %q, want 1 row", got)
	}

	o.MaxSize = 4
	if _, err := o.Open(context.Background(), path); !core.IsKind(err, core.ErrValidation) {
		t.Errorf("Open() over MaxSize error = %v, want validation", err)
	}
}

type fakeS3 struct {
	objects map[string]string
	calls   int
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.calls++
	body, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: aws.Int64(int64(len(body))),
	}, nil
}

func TestOpener_S3(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{
		"lab/runs/cells.csv": "project,subject\nprj1,sbj1\nprj2,sbj2\n",
	}}
	o := &Opener{S3: fake}

	src, err := o.Open(context.Background(), "s3://lab/runs/cells.csv")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer src.Close()
	if got := readAll(t, src); len(got) != 2 {
		t.Errorf("rows = %q, want 2 rows", got)
	}

	if _, err := o.Open(context.Background(), "s3://lab/missing.csv"); err == nil {
		t.Error("Open(missing) error = nil")
	}
	if _, err := (&Opener{}).Open(context.Background(), "s3://lab/runs/cells.csv"); err == nil {
		t.Error("Open() without client error = nil")
	}
	if fake.calls != 2 {
		t.Errorf("GetObject calls = %d, want 2", fake.calls)
	}
}

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		in      string
		bucket  string
		key     string
		wantErr bool
	}{
		{"s3://lab/cells.csv", "lab", "cells.csv", false},
		{"s3://lab/a/b/cells.xlsx", "lab", "a/b/cells.xlsx", false},
		{"s3://lab/", "", "", true},
		{"s3:///cells.csv", "", "", true},
		{"https://lab/cells.csv", "", "", true},
	}
	for _, tt := range tests {
		bucket, key, err := ParseS3URL(tt.in)
		if (err != nil) != tt.wantErr || bucket != tt.bucket || key != tt.key {
			t.Errorf("ParseS3URL(%q) = %q, %q, %v", tt.in, bucket, key, err)
		}
	}
}

// ============================================================================
// Spool
// ============================================================================

func TestSpool(t *testing.T) {
	sf, err := Spool(strings.NewReader("project,subject\n"), 0)
	if err != nil {
		t.Fatalf("Spool() error = %v", err)
	}
	name := sf.Name()

	data, err := io.ReadAll(sf)
	if err != nil || string(data) != "project,subject\n" {
		t.Errorf("spooled data = %q, %v", data, err)
	}
	if sf.Size != int64(len(data)) {
		t.Errorf("Size = %d, want %d", sf.Size, len(data))
	}

	if err := sf.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(name); !os.IsNotExist(err) {
		t.Errorf("spool file still exists: %v", err)
	}
}

func TestSpool_TooLarge(t *testing.T) {
	if _, err := Spool(strings.NewReader("0123456789"), 5); !core.IsKind(err, core.ErrValidation) {
		t.Errorf("Spool() error = %v, want validation", err)
	}
}
