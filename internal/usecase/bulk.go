package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Harsh-BH/crmjobs/internal/domain"
	"github.com/Harsh-BH/crmjobs/internal/metrics"
	"github.com/Harsh-BH/crmjobs/internal/poller"
	"github.com/Harsh-BH/crmjobs/internal/reconcile"
	"github.com/Harsh-BH/crmjobs/internal/remote"
	"github.com/Harsh-BH/crmjobs/internal/rowcodec"
)

const idField = "Id"

// dialect is implemented by bulk clients with a non-default CSV format.
type dialect interface {
	Delimiter() rowcodec.Delimiter
	CRLF() bool
}

// BulkUsecase runs ingest and query jobs end to end: validate, encode,
// submit, wait and reconcile.
type BulkUsecase struct {
	api    remote.BulkAPI
	orch   *orchestrator
	logger *zap.Logger
}

// NewBulkUsecase creates a BulkUsecase.
func NewBulkUsecase(api remote.BulkAPI, p *poller.Poller, deps Dependencies, logger *zap.Logger) *BulkUsecase {
	return &BulkUsecase{
		api:    api,
		orch:   newOrchestrator(api, p, deps, logger),
		logger: logger,
	}
}

// Insert creates records on object.
func (uc *BulkUsecase) Insert(ctx context.Context, object string, records []domain.Record, opts ...RunOption) (*domain.BulkResult, error) {
	return uc.ingest(ctx, domain.OpInsert, object, "", records, opts)
}

// Update modifies records by Id.
func (uc *BulkUsecase) Update(ctx context.Context, object string, records []domain.Record, opts ...RunOption) (*domain.BulkResult, error) {
	return uc.ingest(ctx, domain.OpUpdate, object, "", records, opts)
}

// Upsert creates or updates records matched on externalIDField.
func (uc *BulkUsecase) Upsert(ctx context.Context, object, externalIDField string, records []domain.Record, opts ...RunOption) (*domain.BulkResult, error) {
	return uc.ingest(ctx, domain.OpUpsert, object, externalIDField, records, opts)
}

// Delete moves records to the recycle bin.
func (uc *BulkUsecase) Delete(ctx context.Context, object string, ids []string, opts ...RunOption) (*domain.BulkResult, error) {
	return uc.ingest(ctx, domain.OpDelete, object, "", domain.RecordsFromIDs(ids), opts)
}

// HardDelete removes records permanently.
func (uc *BulkUsecase) HardDelete(ctx context.Context, object string, ids []string, opts ...RunOption) (*domain.BulkResult, error) {
	return uc.ingest(ctx, domain.OpHardDelete, object, "", domain.RecordsFromIDs(ids), opts)
}

// Query runs soql and returns every row.
func (uc *BulkUsecase) Query(ctx context.Context, soql string, opts ...RunOption) (*domain.QueryResult, error) {
	return uc.query(ctx, domain.OpQuery, soql, opts)
}

// QueryAll is Query including deleted and archived rows.
func (uc *BulkUsecase) QueryAll(ctx context.Context, soql string, opts ...RunOption) (*domain.QueryResult, error) {
	return uc.query(ctx, domain.OpQueryAll, soql, opts)
}

// Resume waits on an ingest job submitted earlier and reconciles its
// results against records, which must be the records originally submitted.
// With no records, result rows are reported in the order the remote system
// returns them, successes first.
func (uc *BulkUsecase) Resume(ctx context.Context, job *domain.Job, records []domain.Record, opts ...RunOption) (*domain.BulkResult, error) {
	if job.Kind != domain.KindIngest {
		return nil, &domain.ValidationError{Op: job.Operation, Field: "kind", Reason: "resume expects an ingest job, got " + string(job.Kind)}
	}
	ro := buildRunOptions(opts)
	inv, final, err := uc.orch.resume(ctx, job, ro, uc.orch.poller.Policy())
	if err != nil {
		return nil, err
	}

	var sub *reconcile.Submission
	if len(records) > 0 {
		var columns []string
		if job.Operation.IsDelete() {
			columns = []string{idField}
		} else {
			columns = rowcodec.Header(records)
		}
		sub = &reconcile.Submission{Records: records, Columns: columns}
	}
	return uc.collect(ctx, inv, final, sub)
}

// ResumeQuery waits on a query job submitted earlier and pages its rows.
func (uc *BulkUsecase) ResumeQuery(ctx context.Context, job *domain.Job, opts ...RunOption) (*domain.QueryResult, error) {
	if job.Kind != domain.KindQuery {
		return nil, &domain.ValidationError{Op: job.Operation, Field: "kind", Reason: "resume expects a query job, got " + string(job.Kind)}
	}
	ro := buildRunOptions(opts)
	inv, final, err := uc.orch.resume(ctx, job, ro, uc.orch.poller.Policy())
	if err != nil {
		return nil, err
	}
	return uc.pageQuery(ctx, inv, final)
}

func (uc *BulkUsecase) ingest(ctx context.Context, op domain.Operation, object, externalIDField string, records []domain.Record, opts []RunOption) (*domain.BulkResult, error) {
	if err := ValidateIngest(op, object, externalIDField, records); err != nil {
		uc.logger.Debug("Rejected bulk request", zap.String("operation", string(op)), zap.Error(err))
		return nil, err
	}

	var encodeOpts []rowcodec.Option
	if d, ok := uc.api.(dialect); ok {
		encodeOpts = append(encodeOpts, rowcodec.WithDelimiter(d.Delimiter()))
		if d.CRLF() {
			encodeOpts = append(encodeOpts, rowcodec.WithCRLF())
		}
	}
	if op.IsDelete() {
		encodeOpts = append(encodeOpts, rowcodec.WithColumns(idField))
	}
	payload, columns, err := rowcodec.Encode(records, encodeOpts...)
	if err != nil {
		return nil, &domain.ValidationError{Op: op, Reason: err.Error()}
	}

	spec := &domain.JobSpec{
		Kind:            domain.KindIngest,
		Operation:       op,
		Object:          object,
		ExternalIDField: externalIDField,
		Payload:         payload,
	}
	ro := buildRunOptions(opts)
	inv, job, err := uc.orch.submitAndWait(ctx, spec, ro, uc.orch.poller.Policy())
	if err != nil {
		return nil, err
	}
	return uc.collect(ctx, inv, job, &reconcile.Submission{Records: records, Columns: columns})
}

// collect downloads the three result payloads concurrently and reconciles
// them. It finishes the invocation.
func (uc *BulkUsecase) collect(ctx context.Context, inv *invocation, job *domain.Job, sub *reconcile.Submission) (*domain.BulkResult, error) {
	var success, failed, unprocessed []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		success, err = uc.api.SuccessfulResults(gctx, job)
		return err
	})
	g.Go(func() (err error) {
		failed, err = uc.api.FailedResults(gctx, job)
		return err
	})
	g.Go(func() (err error) {
		unprocessed, err = uc.api.UnprocessedRecords(gctx, job)
		return err
	})
	if err := g.Wait(); err != nil {
		uc.logger.Error("Failed to download job results", zap.String("job_id", job.ID), zap.Error(err))
		uc.orch.finish(ctx, inv, job, OutcomeResultsError, 0, 0, err.Error())
		return nil, fmt.Errorf("usecase: download results for job %s: %w: %w", job.ID, domain.ErrResults, err)
	}

	out, err := decodeOutputs(uc.api, success, failed, unprocessed)
	if err == nil {
		var result *domain.BulkResult
		if sub != nil {
			result, err = reconcile.Reconcile(job, *sub, out)
		} else {
			result = unaligned(job, out)
		}
		if err == nil {
			metrics.RecordsProcessed.WithLabelValues(string(job.Operation), "success").Add(float64(result.SuccessCount()))
			metrics.RecordsProcessed.WithLabelValues(string(job.Operation), "failed").Add(float64(result.FailedCount()))
			uc.orch.finish(ctx, inv, job, string(domain.StateComplete), result.SuccessCount(), result.FailedCount(), "")
			return result, nil
		}
	}

	uc.logger.Error("Failed to reconcile job results", zap.String("job_id", job.ID), zap.Error(err))
	uc.orch.finish(ctx, inv, job, OutcomeResultsError, 0, 0, err.Error())
	if !errors.Is(err, domain.ErrReconciliation) {
		err = fmt.Errorf("%w: %w", domain.ErrResults, err)
	}
	return nil, err
}

func decodeOutputs(api remote.BulkAPI, success, failed, unprocessed []byte) (reconcile.Outputs, error) {
	var opts []rowcodec.Option
	if d, ok := api.(dialect); ok {
		opts = append(opts, rowcodec.WithDelimiter(d.Delimiter()))
	}
	var out reconcile.Outputs
	var err error
	if out.Successful, err = rowcodec.Decode(success, opts...); err != nil {
		return out, fmt.Errorf("usecase: decode successful results: %w", err)
	}
	if out.Failed, err = rowcodec.Decode(failed, opts...); err != nil {
		return out, fmt.Errorf("usecase: decode failed results: %w", err)
	}
	if out.Unprocessed, err = rowcodec.Decode(unprocessed, opts...); err != nil {
		return out, fmt.Errorf("usecase: decode unprocessed records: %w", err)
	}
	return out, nil
}

// unaligned reports result rows without a submission to align them with.
// Indices are positions within the combined remote output.
func unaligned(job *domain.Job, out reconcile.Outputs) *domain.BulkResult {
	result := &domain.BulkResult{Job: job}
	i := 0
	if out.Successful != nil {
		for _, row := range out.Successful.Rows {
			rec, platform := reconcile.Split(row)
			result.SuccessRecords = append(result.SuccessRecords, rec)
			result.SuccessIDs = append(result.SuccessIDs, platform[reconcile.ColumnID])
			result.SuccessIndices = append(result.SuccessIndices, i)
			i++
		}
	}
	if out.Failed != nil {
		for _, row := range out.Failed.Rows {
			rec, platform := reconcile.Split(row)
			e := reconcile.RowError(platform)
			result.FailedRecords = append(result.FailedRecords, rec)
			result.FailedIndices = append(result.FailedIndices, i)
			result.Errors = append(result.Errors, e)
			i++
		}
	}
	if out.Unprocessed != nil {
		for _, row := range out.Unprocessed.Rows {
			result.FailedRecords = append(result.FailedRecords, row)
			result.FailedIndices = append(result.FailedIndices, i)
			result.Errors = append(result.Errors, domain.RecordError{Code: reconcile.CodeUnprocessed, Message: "record was not processed before the job ended"})
			i++
		}
	}
	return result
}

func (uc *BulkUsecase) query(ctx context.Context, op domain.Operation, soql string, opts []RunOption) (*domain.QueryResult, error) {
	if strings.TrimSpace(soql) == "" {
		return nil, &domain.ValidationError{Op: op, Field: "query", Reason: "query must not be empty"}
	}
	spec := &domain.JobSpec{
		Kind:      domain.KindQuery,
		Operation: op,
		Query:     soql,
	}
	ro := buildRunOptions(opts)
	inv, job, err := uc.orch.submitAndWait(ctx, spec, ro, uc.orch.poller.Policy())
	if err != nil {
		return nil, err
	}
	return uc.pageQuery(ctx, inv, job)
}

// pageQuery follows result locators until the last page. It finishes the
// invocation.
func (uc *BulkUsecase) pageQuery(ctx context.Context, inv *invocation, job *domain.Job) (*domain.QueryResult, error) {
	var opts []rowcodec.Option
	if d, ok := uc.api.(dialect); ok {
		opts = append(opts, rowcodec.WithDelimiter(d.Delimiter()))
	}

	result := &domain.QueryResult{Job: job, Records: []domain.Record{}}
	locator := ""
	for page := 1; ; page++ {
		data, next, err := uc.api.QueryResults(ctx, job, locator)
		if err != nil {
			uc.orch.finish(ctx, inv, job, OutcomeResultsError, 0, 0, err.Error())
			return nil, fmt.Errorf("usecase: fetch query page %d of job %s: %w: %w", page, job.ID, domain.ErrResults, err)
		}
		table, err := rowcodec.Decode(data, opts...)
		if err != nil {
			uc.orch.finish(ctx, inv, job, OutcomeResultsError, 0, 0, err.Error())
			return nil, fmt.Errorf("usecase: decode query page %d of job %s: %w: %w", page, job.ID, domain.ErrResults, err)
		}
		if len(table.Header) > 0 {
			if result.Header == nil {
				result.Header = table.Header
			} else if !slices.Equal(result.Header, table.Header) {
				err := fmt.Errorf("usecase: query page %d of job %s changed columns: %w", page, job.ID, domain.ErrResults)
				uc.orch.finish(ctx, inv, job, OutcomeResultsError, 0, 0, err.Error())
				return nil, err
			}
		}
		result.Records = append(result.Records, table.Rows...)
		if next == "" {
			break
		}
		locator = next
	}

	metrics.RecordsProcessed.WithLabelValues(string(job.Operation), "success").Add(float64(len(result.Records)))
	uc.orch.finish(ctx, inv, job, string(domain.StateComplete), len(result.Records), 0, "")
	return result, nil
}

// ValidateIngest checks a bulk request locally. It never touches the network.
func ValidateIngest(op domain.Operation, object, externalIDField string, records []domain.Record) error {
	if op.Kind() != domain.KindIngest {
		return &domain.ValidationError{Op: op, Reason: "not an ingest operation"}
	}
	if strings.TrimSpace(object) == "" {
		return &domain.ValidationError{Op: op, Field: "object", Reason: "object name is required"}
	}
	if len(records) == 0 {
		return &domain.ValidationError{Op: op, Field: "records", Reason: "at least one record is required"}
	}

	field := ""
	switch {
	case op.RequiresID():
		field = idField
	case op.RequiresExternalID():
		if strings.TrimSpace(externalIDField) == "" {
			return &domain.ValidationError{Op: op, Field: "externalIdField", Reason: "external id field is required"}
		}
		field = externalIDField
	default:
		return nil
	}

	var missing []int
	for i, rec := range records {
		if !hasValue(rec, field) {
			missing = append(missing, i)
		}
	}
	if len(missing) > 0 {
		return &domain.ValidationError{
			Op:      op,
			Field:   field,
			Indices: missing,
			Reason:  fmt.Sprintf("%d record(s) missing %s", len(missing), field),
		}
	}
	return nil
}

func hasValue(rec domain.Record, field string) bool {
	v, ok := rec[field]
	if !ok || v == nil {
		return false
	}
	s, err := rowcodec.FormatValue(v)
	return err == nil && strings.TrimSpace(s) != ""
}
