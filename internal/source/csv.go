package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/JonMunkholm/immunoload/internal/core"
)

// CSV streams records from comma-separated input.
type CSV struct {
	reader *csv.Reader
	header []string
	closer io.Closer
}

var _ core.RecordSource = (*CSV)(nil)

// NewCSV reads the header row from r. If r is an io.Closer it is closed by
// Close.
func NewCSV(r io.Reader) (*CSV, error) {
	cr := csv.NewReader(Sanitize(r))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true

	c := &CSV{reader: cr}
	if closer, ok := r.(io.Closer); ok {
		c.closer = closer
	}

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		c.Close()
		return nil, core.NewValidationError("empty file: no header row")
	}
	if err != nil {
		c.Close()
		return nil, core.NewValidationError(fmt.Sprintf("read csv header: %v", err))
	}
	c.header = header
	return c, nil
}

func (c *CSV) Header() []string { return c.header }

// Next returns the next record, or io.EOF.
func (c *CSV) Next() ([]string, error) {
	return c.reader.Read()
}

func (c *CSV) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}
