package source

import (
	"fmt"
	"io"

	"github.com/JonMunkholm/immunoload/internal/core"
	"github.com/xuri/excelize/v2"
)

// XLSX streams the rows of the first worksheet of a workbook.
type XLSX struct {
	file   *excelize.File
	rows   *excelize.Rows
	header []string
	closer io.Closer
}

var _ core.RecordSource = (*XLSX)(nil)

// NewXLSX opens a workbook from r and reads the header row of its first
// sheet. If r is an io.Closer it is closed by Close.
func NewXLSX(r io.Reader) (*XLSX, error) {
	x := &XLSX{}
	if closer, ok := r.(io.Closer); ok {
		x.closer = closer
	}

	f, err := excelize.OpenReader(r)
	if err != nil {
		x.Close()
		return nil, core.NewValidationError(fmt.Sprintf("open xlsx: %v", err))
	}
	x.file = f

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		x.Close()
		return nil, core.NewValidationError("empty file: workbook has no sheets")
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		x.Close()
		return nil, core.NewValidationError(fmt.Sprintf("read sheet %q: %v", sheets[0], err))
	}
	x.rows = rows

	header, err := x.Next()
	if err == io.EOF {
		x.Close()
		return nil, core.NewValidationError("empty file: no header row")
	}
	if err != nil {
		x.Close()
		return nil, err
	}
	x.header = header
	return x, nil
}

func (x *XLSX) Header() []string { return x.header }

// Next returns the next row, or io.EOF. Trailing empty cells are omitted.
func (x *XLSX) Next() ([]string, error) {
	if !x.rows.Next() {
		if err := x.rows.Error(); err != nil {
			return nil, fmt.Errorf("read xlsx row: %w", err)
		}
		return nil, io.EOF
	}
	cols, err := x.rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read xlsx row: %w", err)
	}
	return cols, nil
}

func (x *XLSX) Close() error {
	var firstErr error
	if x.rows != nil {
		firstErr = x.rows.Close()
	}
	if x.file != nil {
		if err := x.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if x.closer != nil {
		if err := x.closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
