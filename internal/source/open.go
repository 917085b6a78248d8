// Package source turns CSV and XLSX inputs from local files, uploads or
// S3 objects into core.RecordSource streams.
package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/JonMunkholm/immunoload/internal/core"
)

// Supported input formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// FormatOf returns the input format implied by a file name.
func FormatOf(name string) (string, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	}
	return "", core.NewValidationError(fmt.Sprintf("unsupported file type %q: use .csv or .xlsx", path.Ext(name)))
}

// FromReader wraps r as a record source of the format implied by name.
// The source takes ownership of r when it is an io.Closer.
func FromReader(name string, r io.Reader) (core.RecordSource, error) {
	format, err := FormatOf(name)
	if err != nil {
		if c, ok := r.(io.Closer); ok {
			c.Close()
		}
		return nil, err
	}
	if format == FormatXLSX {
		x, err := NewXLSX(r)
		if err != nil {
			return nil, err
		}
		return x, nil
	}
	c, err := NewCSV(r)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Opener resolves input locations. S3 is only needed for s3:// locations.
type Opener struct {
	S3 ObjectGetter

	// MaxSize rejects inputs larger than this many bytes when positive.
	MaxSize int64
}

// Open opens a local path or an s3://bucket/key location.
func (o *Opener) Open(ctx context.Context, location string) (core.RecordSource, error) {
	if _, err := FormatOf(location); err != nil {
		return nil, err
	}

	if strings.HasPrefix(location, "s3://") {
		if o.S3 == nil {
			return nil, fmt.Errorf("s3 location %q given but no s3 client configured", location)
		}
		bucket, key, err := ParseS3URL(location)
		if err != nil {
			return nil, core.NewValidationError(err.Error())
		}
		body, size, err := getObject(ctx, o.S3, bucket, key)
		if err != nil {
			return nil, err
		}
		if err := o.checkSize(size); err != nil {
			body.Close()
			return nil, err
		}
		return FromReader(key, body)
	}

	f, err := os.Open(location)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	if info, err := f.Stat(); err == nil {
		if err := o.checkSize(info.Size()); err != nil {
			f.Close()
			return nil, err
		}
	}
	return FromReader(location, f)
}

func (o *Opener) checkSize(size int64) error {
	if o.MaxSize > 0 && size > o.MaxSize {
		return core.NewValidationError(fmt.Sprintf("file too large: %d bytes, max %d", size, o.MaxSize))
	}
	return nil
}
