package csvimport

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// sliceReader replays records already loaded into memory
type sliceReader struct {
	records [][]string
	next    int
}

func (s *sliceReader) Read() ([]string, error) {
	if s.next >= len(s.records) {
		return nil, io.EOF
	}
	rec := s.records[s.next]
	s.next++
	return rec, nil
}

// NewXLSXParser creates a parser over the first worksheet of an xlsx workbook.
// Cells are read as their formatted text, the same as a CSV export would show.
func NewXLSXParser(r io.Reader, opts ...ParserOption) (*Parser, error) {
	p := newParser(opts...)

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpreadsheet, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrInvalidSpreadsheet)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpreadsheet, err)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyFile
	}

	p.reader = &sliceReader{records: rows}
	return p, nil
}
