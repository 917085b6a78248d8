package source

import (
	"fmt"
	"io"
	"os"

	"github.com/JonMunkholm/immunoload/internal/core"
)

// SpooledFile is a temporary copy of an upload that is removed on Close.
type SpooledFile struct {
	*os.File
	Size int64
}

// Spool copies r into a temporary file and rewinds it, so an asynchronous
// run can outlive the request that delivered the data. At most maxSize
// bytes are accepted when maxSize is positive.
func Spool(r io.Reader, maxSize int64) (*SpooledFile, error) {
	f, err := os.CreateTemp("", "immunoload-*")
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	sf := &SpooledFile{File: f}

	src := r
	if maxSize > 0 {
		src = io.LimitReader(r, maxSize+1)
	}
	n, err := io.Copy(f, src)
	if err != nil {
		sf.Close()
		return nil, fmt.Errorf("spool upload: %w", err)
	}
	if maxSize > 0 && n > maxSize {
		sf.Close()
		return nil, core.NewValidationError(fmt.Sprintf("file too large: max %d bytes", maxSize))
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		sf.Close()
		return nil, fmt.Errorf("rewind spool file: %w", err)
	}
	sf.Size = n
	return sf, nil
}

// Close closes and deletes the file.
func (s *SpooledFile) Close() error {
	err := s.File.Close()
	if rmErr := os.Remove(s.File.Name()); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}
