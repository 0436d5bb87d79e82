// Package rowcodec converts between caller records and the delimited row
// payloads exchanged with the bulk data API.
package rowcodec

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/Harsh-BH/crmjobs/internal/domain"
)

// NullToken is the cell value the remote platform reads as "set this field to null".
const NullToken = "#N/A"

const dateTimeLayout = "2006-01-02T15:04:05.000Z"

// Delimiter is a supported column separator.
type Delimiter byte

const (
	Comma     Delimiter = ','
	Tab       Delimiter = '\t'
	Pipe      Delimiter = '|'
	Semicolon Delimiter = ';'
	Caret     Delimiter = '^'
	Backquote Delimiter = '`'
)

var delimiterNames = map[Delimiter]string{
	Comma:     "COMMA",
	Tab:       "TAB",
	Pipe:      "PIPE",
	Semicolon: "SEMICOLON",
	Caret:     "CARET",
	Backquote: "BACKQUOTE",
}

// Name returns the identifier the remote API uses for the delimiter.
func (d Delimiter) Name() string {
	return delimiterNames[d]
}

// ParseDelimiter resolves an API delimiter name such as "COMMA".
func ParseDelimiter(name string) (Delimiter, error) {
	for d, n := range delimiterNames {
		if n == name {
			return d, nil
		}
	}
	return 0, fmt.Errorf("rowcodec: unsupported delimiter %q", name)
}

// Kind is a target type for decoded cell values.
type Kind int

const (
	String Kind = iota
	Int
	Float
	Bool
)

// Schema declares per-column coercion for Decode. Undeclared columns stay strings.
type Schema map[string]Kind

type options struct {
	delimiter Delimiter
	crlf      bool
	columns   []string
	schema    Schema
}

// Option customises Encode and Decode.
type Option func(*options)

// WithDelimiter selects the column separator (default comma).
func WithDelimiter(d Delimiter) Option {
	return func(o *options) { o.delimiter = d }
}

// WithCRLF terminates encoded lines with CRLF instead of LF.
func WithCRLF() Option {
	return func(o *options) { o.crlf = true }
}

// WithColumns pins the encoded header to cols, in that order.
func WithColumns(cols ...string) Option {
	return func(o *options) { o.columns = cols }
}

// WithSchema coerces decoded columns to the declared kinds.
func WithSchema(s Schema) Option {
	return func(o *options) { o.schema = s }
}

func buildOptions(opts []Option) (*options, error) {
	o := &options{delimiter: Comma}
	for _, opt := range opts {
		opt(o)
	}
	if _, ok := delimiterNames[o.delimiter]; !ok {
		return nil, fmt.Errorf("rowcodec: unsupported delimiter %q", rune(o.delimiter))
	}
	return o, nil
}

// Table is a decoded payload.
type Table struct {
	Header []string
	Rows   []domain.Record
}

// Header returns the union of keys across records in first-seen order. Go maps
// carry no insertion order, so keys first seen in the same record are ordered
// with "Id" leading and the rest lexicographically.
func Header(records []domain.Record) []string {
	seen := make(map[string]bool)
	var header []string
	for _, r := range records {
		for _, k := range orderedKeys(r) {
			if !seen[k] {
				seen[k] = true
				header = append(header, k)
			}
		}
	}
	return header
}

func orderedKeys(r domain.Record) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i] == "Id" || keys[j] == "Id" {
			return keys[i] == "Id"
		}
		return keys[i] < keys[j]
	})
	return keys
}

// Encode renders records as a delimited payload and returns the header used.
// Missing keys become empty cells and nil values become NullToken.
func Encode(records []domain.Record, opts ...Option) ([]byte, []string, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, nil, err
	}

	header := o.columns
	if header == nil {
		header = Header(records)
	} else {
		allowed := make(map[string]bool, len(header))
		for _, c := range header {
			allowed[c] = true
		}
		for i, r := range records {
			for k := range r {
				if !allowed[k] {
					return nil, nil, fmt.Errorf("rowcodec: record %d has field %q outside the declared columns", i, k)
				}
			}
		}
	}
	if len(header) == 0 {
		return []byte{}, header, nil
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = rune(o.delimiter)
	w.UseCRLF = o.crlf

	if err := w.Write(header); err != nil {
		return nil, nil, fmt.Errorf("rowcodec: write header: %w", err)
	}
	row := make([]string, len(header))
	for i, r := range records {
		for j, col := range header {
			v, ok := r[col]
			if !ok {
				row[j] = ""
				continue
			}
			cell, err := FormatValue(v)
			if err != nil {
				return nil, nil, fmt.Errorf("rowcodec: record %d field %q: %w", i, col, err)
			}
			row[j] = cell
		}
		if err := w.Write(row); err != nil {
			return nil, nil, fmt.Errorf("rowcodec: write record %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, nil, fmt.Errorf("rowcodec: flush: %w", err)
	}
	return buf.Bytes(), header, nil
}

// FormatValue renders a single value the way Encode writes it into a cell.
func FormatValue(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return NullToken, nil
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case time.Time:
		return x.UTC().Format(dateTimeLayout), nil
	case fmt.Stringer:
		return x.String(), nil
	case []byte:
		return string(x), nil
	default:
		switch v.(type) {
		case map[string]any, []any:
			return "", fmt.Errorf("nested value of type %T cannot be a cell", v)
		}
		return fmt.Sprint(x), nil
	}
}

// Decode parses a payload produced by Encode or returned by the remote API.
// Blank lines are never skipped: in a single-column payload a blank line is a
// record holding an empty value, otherwise it is a field-count error.
func Decode(payload []byte, opts ...Option) (*Table, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}

	payload = bytes.TrimPrefix(payload, []byte("\xef\xbb\xbf"))
	p := &parser{data: payload, comma: byte(o.delimiter)}

	header, ok, err := p.next()
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Table{}, nil
	}
	index := make(map[string]bool, len(header))
	for _, col := range header {
		if index[col] {
			return nil, fmt.Errorf("rowcodec: duplicate column %q in header", col)
		}
		index[col] = true
	}
	if len(header) == 1 && header[0] == "" {
		return nil, fmt.Errorf("rowcodec: empty header line")
	}

	table := &Table{Header: header, Rows: []domain.Record{}}
	for {
		line := p.line + 1
		fields, ok, err := p.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if len(fields) != len(header) {
			return nil, fmt.Errorf("rowcodec: line %d: %d fields, header has %d", line, len(fields), len(header))
		}
		rec := make(domain.Record, len(header))
		for i, col := range header {
			v, err := coerce(fields[i], o.schema[col])
			if err != nil {
				return nil, fmt.Errorf("rowcodec: line %d column %q: %w", line, col, err)
			}
			rec[col] = v
		}
		table.Rows = append(table.Rows, rec)
	}
	return table, nil
}

func coerce(cell string, kind Kind) (any, error) {
	if cell == NullToken {
		return nil, nil
	}
	if kind != String && cell == "" {
		return nil, nil
	}
	switch kind {
	case Int:
		return strconv.ParseInt(cell, 10, 64)
	case Float:
		return strconv.ParseFloat(cell, 64)
	case Bool:
		return strconv.ParseBool(cell)
	default:
		return cell, nil
	}
}
