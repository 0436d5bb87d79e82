// Package reconcile aligns bulk job result rows with the records that were
// submitted, keeping the caller's original order.
package reconcile

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Harsh-BH/crmjobs/internal/domain"
	"github.com/Harsh-BH/crmjobs/internal/rowcodec"
)

// Columns the remote platform prepends to result rows.
const (
	ColumnID         = "sf__Id"
	ColumnCreated    = "sf__Created"
	ColumnError      = "sf__Error"
	ColumnFields     = "sf__Fields"
	ColumnStatusCode = "sf__StatusCode"

	platformPrefix = "sf__"
)

// Error codes assigned locally.
const (
	CodeUnprocessed = "UNPROCESSED"
	CodeUnknown     = "UNKNOWN"
)

const keySep = "\x1f"

var fieldListPattern = regexp.MustCompile(`^[A-Za-z0-9_.]+(,[A-Za-z0-9_.]+)*$`)

// Outputs holds the decoded result payloads of one ingest job. Any of them may
// be nil when the remote system returned nothing.
type Outputs struct {
	Successful  *rowcodec.Table
	Failed      *rowcodec.Table
	Unprocessed *rowcodec.Table
}

// Submission is what was sent: the caller's records, in order, and the
// columns they were encoded with.
type Submission struct {
	Records []domain.Record
	Columns []string
}

// Reconcile zips result rows back onto submission indices. Each result row is
// matched to the earliest unused submitted record carrying the same values in
// the columns that row echoes. Every result row must match and every submitted
// record must be accounted for, otherwise ErrReconciliation is returned.
func Reconcile(job *domain.Job, sub Submission, out Outputs) (*domain.BulkResult, error) {
	m := newMatcher(sub)

	type success struct {
		index int
		id    string
	}
	type failure struct {
		index int
		err   domain.RecordError
	}
	var (
		successes []success
		failures  []failure
	)

	if out.Successful != nil {
		for row, rec := range out.Successful.Rows {
			values, platform := Split(rec)
			idx, err := m.claim(out.Successful.Header, values)
			if err != nil {
				return nil, fmt.Errorf("%w: successful row %d: %v", domain.ErrReconciliation, row+1, err)
			}
			successes = append(successes, success{index: idx, id: platform[ColumnID]})
		}
	}
	if out.Failed != nil {
		for row, rec := range out.Failed.Rows {
			values, platform := Split(rec)
			idx, err := m.claim(out.Failed.Header, values)
			if err != nil {
				return nil, fmt.Errorf("%w: failed row %d: %v", domain.ErrReconciliation, row+1, err)
			}
			failures = append(failures, failure{index: idx, err: RowError(platform)})
		}
	}
	if out.Unprocessed != nil {
		for row, rec := range out.Unprocessed.Rows {
			values, _ := Split(rec)
			idx, err := m.claim(out.Unprocessed.Header, values)
			if err != nil {
				return nil, fmt.Errorf("%w: unprocessed row %d: %v", domain.ErrReconciliation, row+1, err)
			}
			failures = append(failures, failure{index: idx, err: domain.RecordError{
				Code:    CodeUnprocessed,
				Message: "record was not processed before the job ended",
			}})
		}
	}

	if got := len(successes) + len(failures); got != len(sub.Records) {
		return nil, fmt.Errorf("%w: %d successful and %d failed rows for %d submitted records",
			domain.ErrReconciliation, len(successes), len(failures), len(sub.Records))
	}

	sort.Slice(successes, func(i, j int) bool { return successes[i].index < successes[j].index })
	sort.Slice(failures, func(i, j int) bool { return failures[i].index < failures[j].index })

	result := &domain.BulkResult{
		Job:            job,
		SuccessRecords: make([]domain.Record, 0, len(successes)),
		SuccessIndices: make([]int, 0, len(successes)),
		FailedRecords:  make([]domain.Record, 0, len(failures)),
		FailedIndices:  make([]int, 0, len(failures)),
		Errors:         make([]domain.RecordError, 0, len(failures)),
	}
	for _, s := range successes {
		result.SuccessRecords = append(result.SuccessRecords, sub.Records[s.index])
		result.SuccessIndices = append(result.SuccessIndices, s.index)
		result.SuccessIDs = append(result.SuccessIDs, s.id)
	}
	for _, f := range failures {
		result.FailedRecords = append(result.FailedRecords, sub.Records[f.index])
		result.FailedIndices = append(result.FailedIndices, f.index)
		result.Errors = append(result.Errors, f.err)
	}
	return result, nil
}

// Split separates the platform columns of a result row from the echoed record
// fields.
func Split(rec domain.Record) (domain.Record, map[string]string) {
	values := make(domain.Record, len(rec))
	platform := make(map[string]string)
	for k, v := range rec {
		if strings.HasPrefix(k, platformPrefix) {
			if s, ok := v.(string); ok {
				platform[k] = s
			}
			continue
		}
		values[k] = v
	}
	return values, platform
}

// RowError builds the error of a failed result row from its platform columns.
func RowError(platform map[string]string) domain.RecordError {
	re := ParseError(platform[ColumnError])
	if code := strings.TrimSpace(platform[ColumnStatusCode]); code != "" {
		re.Code = code
	}
	if fields := strings.TrimSpace(platform[ColumnFields]); fields != "" {
		re.Fields = splitFields(fields)
	}
	return re
}

// ParseError decodes an error cell of the form "CODE:message:Field1,Field2 --".
// The trailing field list is optional and the message may itself contain
// colons.
func ParseError(raw string) domain.RecordError {
	s := strings.TrimSpace(raw)
	s = strings.TrimSpace(strings.TrimSuffix(s, "--"))
	if s == "" {
		return domain.RecordError{Code: CodeUnknown}
	}

	code, rest, ok := strings.Cut(s, ":")
	if !ok {
		return domain.RecordError{Code: CodeUnknown, Message: s}
	}
	re := domain.RecordError{Code: strings.TrimSpace(code), Message: strings.TrimSpace(rest)}
	if i := strings.LastIndex(rest, ":"); i >= 0 {
		tail := strings.TrimSpace(rest[i+1:])
		switch {
		case tail == "":
			re.Message = strings.TrimSpace(rest[:i])
		case fieldListPattern.MatchString(tail):
			re.Message = strings.TrimSpace(rest[:i])
			re.Fields = splitFields(tail)
		}
	}
	return re
}

func splitFields(s string) []string {
	var fields []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

type matcher struct {
	used  []bool
	cells [][]string
	col   map[string]int
	// index caches candidate lists per result header layout.
	index map[string]map[string][]int
}

func newMatcher(sub Submission) *matcher {
	m := &matcher{
		used:  make([]bool, len(sub.Records)),
		cells: make([][]string, len(sub.Records)),
		col:   make(map[string]int, len(sub.Columns)),
		index: make(map[string]map[string][]int),
	}
	for i, c := range sub.Columns {
		m.col[c] = i
	}
	for i, rec := range sub.Records {
		row := make([]string, len(sub.Columns))
		for j, c := range sub.Columns {
			v, ok := rec[c]
			if !ok {
				continue
			}
			cell, err := rowcodec.FormatValue(v)
			if err != nil {
				cell = fmt.Sprint(v)
			}
			row[j] = normalize(c, cell)
		}
		m.cells[i] = row
	}
	return m
}

// claim finds the submitted record for one result row and marks it used.
func (m *matcher) claim(header []string, values domain.Record) (int, error) {
	cols := m.sharedColumns(header)
	candidates := m.candidates(cols)

	key := m.resultKey(cols, values)
	for _, idx := range candidates[key] {
		if !m.used[idx] {
			m.used[idx] = true
			return idx, nil
		}
	}
	return 0, fmt.Errorf("no unclaimed submitted record matches")
}

func (m *matcher) sharedColumns(header []string) []string {
	var cols []string
	for _, h := range header {
		if strings.HasPrefix(h, platformPrefix) {
			continue
		}
		if _, ok := m.col[h]; ok {
			cols = append(cols, h)
		}
	}
	return cols
}

func (m *matcher) candidates(cols []string) map[string][]int {
	layout := strings.Join(cols, keySep)
	if c, ok := m.index[layout]; ok {
		return c
	}
	c := make(map[string][]int)
	for i, row := range m.cells {
		parts := make([]string, len(cols))
		for j, col := range cols {
			parts[j] = row[m.col[col]]
		}
		key := strings.Join(parts, keySep)
		c[key] = append(c[key], i)
	}
	m.index[layout] = c
	return c
}

func (m *matcher) resultKey(cols []string, values domain.Record) string {
	parts := make([]string, len(cols))
	for j, col := range cols {
		switch v := values[col].(type) {
		case nil:
			parts[j] = rowcodec.NullToken
		case string:
			parts[j] = normalize(col, v)
		default:
			cell, _ := rowcodec.FormatValue(v)
			parts[j] = normalize(col, cell)
		}
	}
	return strings.Join(parts, keySep)
}

// normalize compares record ids on their case-sensitive 15 character form,
// since results may echo the 18 character variant.
func normalize(col, cell string) string {
	if col == "Id" && len(cell) == 18 {
		return cell[:15]
	}
	return cell
}
