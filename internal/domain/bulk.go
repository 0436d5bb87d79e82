package domain

// Record is one row of caller data keyed by field name.
type Record map[string]any

// RecordsFromIDs builds the records for a delete payload.
func RecordsFromIDs(ids []string) []Record {
	records := make([]Record, len(ids))
	for i, id := range ids {
		records[i] = Record{"Id": id}
	}
	return records
}

// RecordError describes why the remote system rejected a single record.
type RecordError struct {
	Fields  []string `json:"fields,omitempty"`
	Message string   `json:"message"`
	Code    string   `json:"code"`
}

// BulkResult is the reconciled outcome of a bulk ingest job. Errors[i]
// describes FailedRecords[i]; both slices keep original submission order.
type BulkResult struct {
	Job            *Job          `json:"job"`
	SuccessRecords []Record      `json:"success_records"`
	SuccessIDs     []string      `json:"success_ids,omitempty"`
	SuccessIndices []int         `json:"success_indices"`
	FailedRecords  []Record      `json:"failed_records"`
	FailedIndices  []int         `json:"failed_indices"`
	Errors         []RecordError `json:"errors"`
}

// SuccessCount is the number of records the remote system accepted.
func (r *BulkResult) SuccessCount() int { return len(r.SuccessRecords) }

// FailedCount is the number of records the remote system rejected or never processed.
func (r *BulkResult) FailedCount() int { return len(r.FailedRecords) }

// Total is the number of records accounted for.
func (r *BulkResult) Total() int { return r.SuccessCount() + r.FailedCount() }

// SuccessRate returns the accepted share as a percentage.
func (r *BulkResult) SuccessRate() float64 {
	if r.Total() == 0 {
		return 0
	}
	return float64(r.SuccessCount()) / float64(r.Total()) * 100
}

// IsSuccessful reports whether every record was accepted.
func (r *BulkResult) IsSuccessful() bool {
	return r.FailedCount() == 0
}

// QueryResult holds every row a query job returned, in remote order.
type QueryResult struct {
	Job     *Job     `json:"job"`
	Header  []string `json:"header"`
	Records []Record `json:"records"`
}

// Merge appends other, whose indices count from offset within the combined
// submission. Job is left as the first chunk's job.
func (r *BulkResult) Merge(other *BulkResult, offset int) {
	if r.Job == nil {
		r.Job = other.Job
	}
	r.SuccessRecords = append(r.SuccessRecords, other.SuccessRecords...)
	r.SuccessIDs = append(r.SuccessIDs, other.SuccessIDs...)
	for _, i := range other.SuccessIndices {
		r.SuccessIndices = append(r.SuccessIndices, i+offset)
	}
	r.FailedRecords = append(r.FailedRecords, other.FailedRecords...)
	for _, i := range other.FailedIndices {
		r.FailedIndices = append(r.FailedIndices, i+offset)
	}
	r.Errors = append(r.Errors, other.Errors...)
}
