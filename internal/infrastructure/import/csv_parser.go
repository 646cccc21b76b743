package csvimport

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// recordReader yields one record per call and io.EOF at the end.
// *csv.Reader satisfies it; spreadsheets are adapted through sliceReader.
type recordReader interface {
	Read() ([]string, error)
}

// Parser reads delimited or spreadsheet rows keyed by canonical header names
type Parser struct {
	delimiter  rune
	lazyQuotes bool
	trimSpace  bool
	aliases    map[string]string
	headerMap  map[string]int
	headers    []string
	rawHeaders []string
	currentRow int
	totalRows  int
	reader     recordReader
}

// ParserOption is a functional option for Parser configuration
type ParserOption func(*Parser)

// WithDelimiter sets the field delimiter. Without it the delimiter is
// sniffed from the header line: tab, then semicolon, then comma.
func WithDelimiter(d rune) ParserOption {
	return func(p *Parser) {
		p.delimiter = d
	}
}

// WithLazyQuotes enables lazy quote handling
func WithLazyQuotes(lazy bool) ParserOption {
	return func(p *Parser) {
		p.lazyQuotes = lazy
	}
}

// WithTrimSpace enables trimming of leading/trailing spaces from fields
func WithTrimSpace(trim bool) ParserOption {
	return func(p *Parser) {
		p.trimSpace = trim
	}
}

// WithHeaderAliases maps header spellings (matched case-insensitively, with
// whitespace collapsed) onto canonical column names.
func WithHeaderAliases(aliases map[string]string) ParserOption {
	return func(p *Parser) {
		for alias, canonical := range aliases {
			p.aliases[aliasKey(alias)] = canonical
		}
	}
}

func newParser(opts ...ParserOption) *Parser {
	p := &Parser{
		lazyQuotes: true,
		trimSpace:  true,
		aliases:    make(map[string]string),
		headerMap:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewCSVParser creates a parser over delimited text.
// A UTF-8 BOM is stripped; empty or non-UTF-8 input is rejected.
func NewCSVParser(r io.Reader, opts ...ParserOption) (*Parser, error) {
	p := newParser(opts...)

	bufReader := bufio.NewReaderSize(r, 64*1024)

	content, err := bufReader.Peek(3)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	// UTF-8 BOM: 0xEF, 0xBB, 0xBF
	if len(content) >= 3 && content[0] == 0xEF && content[1] == 0xBB && content[2] == 0xBF {
		_, _ = bufReader.Discard(3)
	}

	sample, err := sampleUTF8(bufReader)
	if err != nil {
		return nil, err
	}

	if p.delimiter == 0 {
		p.delimiter = sniffDelimiter(sample)
	}

	reader := csv.NewReader(bufReader)
	reader.Comma = p.delimiter
	reader.LazyQuotes = p.lazyQuotes
	// csv.Reader trims tabs as leading space, which would swallow empty
	// tab-separated fields; values are trimmed per field in ReadRow instead.
	reader.TrimLeadingSpace = p.trimSpace && p.delimiter != '\t'
	reader.FieldsPerRecord = -1 // exports pad or truncate rows freely
	p.reader = reader

	return p, nil
}

// ParseFromBytes creates a CSV parser from a byte slice
func ParseFromBytes(data []byte, opts ...ParserOption) (*Parser, error) {
	return NewCSVParser(bytes.NewReader(data), opts...)
}

// sampleUTF8 peeks at the head of the stream and checks that it is UTF-8
func sampleUTF8(r *bufio.Reader) ([]byte, error) {
	const checkSize = 4096
	content, err := r.Peek(checkSize)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, fmt.Errorf("failed to read file for encoding validation: %w", err)
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, ErrEmptyFile
	}

	check := content
	if len(check) == checkSize {
		// The peek window may split a multi-byte rune.
		if i := lastRuneStart(check); i < len(check) && !utf8.FullRune(check[i:]) {
			check = check[:i]
		}
	}
	if !utf8.Valid(check) {
		return nil, ErrInvalidEncoding
	}
	return content, nil
}

func lastRuneStart(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			return i
		}
	}
	return len(b)
}

// sniffDelimiter inspects the first line of the sample
func sniffDelimiter(sample []byte) rune {
	line := sample
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	tabs := bytes.Count(line, []byte{'\t'})
	semis := bytes.Count(line, []byte{';'})
	commas := bytes.Count(line, []byte{','})
	switch {
	case tabs > 0:
		return '\t'
	case semis > commas:
		return ';'
	default:
		return ','
	}
}

// ParseHeader reads and normalizes the header row
func (p *Parser) ParseHeader() error {
	var record []string
	for {
		rec, err := p.reader.Read()
		if err == io.EOF {
			return ErrMissingHeader
		}
		if err != nil {
			return fmt.Errorf("failed to read header: %w", err)
		}
		p.currentRow++
		rec = trimTrailingEmpty(rec)
		if len(rec) > 0 {
			record = rec
			break
		}
	}

	p.rawHeaders = record
	p.headers = make([]string, len(record))
	for i, h := range record {
		header := p.normalizeHeader(h)
		p.headers[i] = header
		if _, dup := p.headerMap[header]; !dup && header != "" {
			p.headerMap[header] = i
		}
	}

	if len(p.headerMap) == 0 {
		return ErrMissingHeader
	}
	return nil
}

// normalizeHeader trims decoration left by spreadsheet exports and resolves aliases
func (p *Parser) normalizeHeader(h string) string {
	header := trimSpaces(h)
	header = trimSpaces(strings.TrimRight(header, ",;"))
	if canonical, ok := p.aliases[aliasKey(header)]; ok {
		return canonical
	}
	return header
}

func aliasKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Headers returns the normalized header names
func (p *Parser) Headers() []string {
	return p.headers
}

// RawHeaders returns the header row as it appeared in the file
func (p *Parser) RawHeaders() []string {
	return p.rawHeaders
}

// HeaderMap returns a map of header name to column index
func (p *Parser) HeaderMap() map[string]int {
	return p.headerMap
}

// HasHeader checks if a header exists
func (p *Parser) HasHeader(name string) bool {
	_, ok := p.headerMap[name]
	return ok
}

// ValidateHeaders returns the required headers that are not present
func (p *Parser) ValidateHeaders(required []string) []string {
	var missing []string
	for _, h := range required {
		if !p.HasHeader(h) {
			missing = append(missing, h)
		}
	}
	return missing
}

// Row represents a parsed row with its data and line number
type Row struct {
	LineNumber int
	Data       map[string]string
	RawFields  []string
}

// Get returns the value for a column by header name
func (r *Row) Get(header string) string {
	return r.Data[header]
}

// GetOrDefault returns the value for a column, or default if not present
func (r *Row) GetOrDefault(header, defaultVal string) string {
	if val, ok := r.Data[header]; ok && val != "" {
		return val
	}
	return defaultVal
}

// IsEmpty returns true if the row has no non-empty values
func (r *Row) IsEmpty() bool {
	for _, v := range r.Data {
		if v != "" {
			return false
		}
	}
	return true
}

// ReadRow reads the next row
func (p *Parser) ReadRow() (*Row, error) {
	record, err := p.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	p.currentRow++
	if err != nil {
		return nil, fmt.Errorf("error reading row %d: %w", p.currentRow, err)
	}
	p.totalRows++

	record = trimTrailingEmpty(record)
	row := &Row{
		LineNumber: p.currentRow,
		Data:       make(map[string]string, len(p.headerMap)),
		RawFields:  record,
	}

	for header, i := range p.headerMap {
		value := ""
		if i < len(record) {
			value = record[i]
			if p.trimSpace {
				value = trimSpaces(value)
			}
		}
		row.Data[header] = value
	}

	return row, nil
}

// ReadAllRows reads all remaining rows, skipping blank ones
func (p *Parser) ReadAllRows() ([]*Row, error) {
	var rows []*Row
	for {
		row, err := p.ReadRow()
		if err == io.EOF {
			break
		}
		if err != nil {
			return rows, err
		}
		if row.IsEmpty() {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// CurrentRow returns the current row number (1-indexed)
func (p *Parser) CurrentRow() int {
	return p.currentRow
}

// TotalRows returns the total number of data rows read
func (p *Parser) TotalRows() int {
	return p.totalRows
}

// trimTrailingEmpty drops trailing fields that are blank or only the
// ",,,,," padding some exporters append to every line
func trimTrailingEmpty(record []string) []string {
	end := len(record)
	for end > 0 && isPadding(record[end-1]) {
		end--
	}
	return record[:end]
}

func isPadding(field string) bool {
	return strings.TrimFunc(field, func(r rune) bool {
		return r == ',' || r == ';' || isWhitespace(r)
	}) == ""
}

// trimSpaces trims whitespace from a string
func trimSpaces(s string) string {
	return strings.TrimFunc(s, isWhitespace)
}

// isWhitespace checks if a rune is whitespace, including the non-breaking
// space spreadsheets like to emit
func isWhitespace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f', '\u00a0', '\ufeff':
		return true
	}
	return false
}
