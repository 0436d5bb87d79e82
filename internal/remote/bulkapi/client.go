// Package bulkapi is the REST client for bulk ingest and query jobs.
package bulkapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/crmjobs/internal/domain"
	"github.com/Harsh-BH/crmjobs/internal/remote"
	"github.com/Harsh-BH/crmjobs/internal/rowcodec"
	"github.com/Harsh-BH/crmjobs/internal/transport"
)

var _ remote.BulkAPI = (*Client)(nil)

const (
	// DefaultAPIVersion is used when Config.APIVersion is empty.
	DefaultAPIVersion = "60.0"

	dateLayout    = "2006-01-02T15:04:05.000-0700"
	locatorHeader = "Sforce-Locator"
	contentCSV    = "text/csv"
)

// Job creation options read from domain.JobSpec.Options.
const (
	OptionColumnDelimiter = "columnDelimiter"
	OptionLineEnding      = "lineEnding"
	OptionAssignmentRule  = "assignmentRuleId"
)

// Config holds bulk job defaults.
type Config struct {
	APIVersion string
	Delimiter  rowcodec.Delimiter
	CRLF       bool
	// PageSize bounds the rows per query results page; zero lets the server pick.
	PageSize int
}

// Client drives bulk jobs over the REST API.
type Client struct {
	http   *transport.Client
	config Config
	logger *zap.Logger
}

// NewClient creates a bulk client on top of an authenticated transport.
func NewClient(hc *transport.Client, config Config, logger *zap.Logger) *Client {
	if config.APIVersion == "" {
		config.APIVersion = DefaultAPIVersion
	}
	if config.Delimiter == 0 {
		config.Delimiter = rowcodec.Comma
	}
	return &Client{http: hc, config: config, logger: logger}
}

// Delimiter returns the column delimiter payloads must be encoded with.
func (c *Client) Delimiter() rowcodec.Delimiter { return c.config.Delimiter }

// CRLF reports whether payloads must use CRLF line endings.
func (c *Client) CRLF() bool { return c.config.CRLF }

type createRequest struct {
	Object              string `json:"object,omitempty"`
	Operation           string `json:"operation"`
	ExternalIDFieldName string `json:"externalIdFieldName,omitempty"`
	AssignmentRuleID    string `json:"assignmentRuleId,omitempty"`
	Query               string `json:"query,omitempty"`
	ContentType         string `json:"contentType"`
	ColumnDelimiter     string `json:"columnDelimiter"`
	LineEnding          string `json:"lineEnding"`
}

type jobInfo struct {
	ID                     string  `json:"id"`
	Operation              string  `json:"operation"`
	Object                 string  `json:"object"`
	State                  string  `json:"state"`
	CreatedDate            string  `json:"createdDate"`
	ExternalIDFieldName    string  `json:"externalIdFieldName"`
	NumberRecordsProcessed int     `json:"numberRecordsProcessed"`
	NumberRecordsFailed    int     `json:"numberRecordsFailed"`
	ErrorMessage           string  `json:"errorMessage"`
	TotalProcessingTime    float64 `json:"totalProcessingTime"`
}

type stateRequest struct {
	State string `json:"state"`
}

func (c *Client) base(kind domain.JobKind) string {
	segment := "ingest"
	if kind == domain.KindQuery {
		segment = "query"
	}
	return fmt.Sprintf("services/data/v%s/jobs/%s", c.config.APIVersion, segment)
}

func (c *Client) jobPath(job *domain.Job, suffix ...string) string {
	parts := append([]string{c.base(job.Kind), url.PathEscape(job.ID)}, suffix...)
	return strings.Join(parts, "/")
}

// CreateJob opens an ingest job or starts a query job.
func (c *Client) CreateJob(ctx context.Context, spec *domain.JobSpec) (*domain.Job, error) {
	if spec.Kind != domain.KindIngest && spec.Kind != domain.KindQuery {
		return nil, fmt.Errorf("bulkapi: unsupported job kind %q", spec.Kind)
	}

	delimiter := c.config.Delimiter.Name()
	if d := spec.Options[OptionColumnDelimiter]; d != "" {
		delimiter = d
	}
	lineEnding := "LF"
	if c.config.CRLF {
		lineEnding = "CRLF"
	}
	if le := spec.Options[OptionLineEnding]; le != "" {
		lineEnding = le
	}

	req := createRequest{
		Operation:       string(spec.Operation),
		ContentType:     "CSV",
		ColumnDelimiter: delimiter,
		LineEnding:      lineEnding,
	}
	if spec.Kind == domain.KindQuery {
		req.Query = spec.Query
	} else {
		req.Object = spec.Object
		req.ExternalIDFieldName = spec.ExternalIDField
		req.AssignmentRuleID = spec.Options[OptionAssignmentRule]
	}

	resp, err := c.http.Post(ctx, c.base(spec.Kind), req)
	if err != nil {
		return nil, apiError("create job", err)
	}
	return c.decodeJob(spec.Kind, resp)
}

// UploadPayload sends the encoded rows of an open ingest job.
func (c *Client) UploadPayload(ctx context.Context, job *domain.Job, payload []byte) error {
	_, err := c.http.Do(ctx, &transport.Request{
		Method:  http.MethodPut,
		Path:    c.jobPath(job, "batches"),
		Body:    payload,
		Headers: map[string]string{"Content-Type": contentCSV},
	})
	if err != nil {
		return apiError("upload payload", err)
	}
	return nil
}

// CloseJob marks the upload complete so processing starts.
func (c *Client) CloseJob(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	return c.setState(ctx, job, domain.StateUploadComplete)
}

// AbortJob asks the remote system to stop processing the job.
func (c *Client) AbortJob(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	return c.setState(ctx, job, domain.StateAborted)
}

func (c *Client) setState(ctx context.Context, job *domain.Job, state domain.JobState) (*domain.Job, error) {
	resp, err := c.http.Patch(ctx, c.jobPath(job), stateRequest{State: string(state)})
	if err != nil {
		return nil, apiError("set job state "+string(state), err)
	}
	return c.decodeJob(job.Kind, resp)
}

// JobStatus returns a fresh snapshot of the job.
func (c *Client) JobStatus(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	resp, err := c.http.Get(ctx, c.jobPath(job), nil)
	if err != nil {
		return nil, apiError("job status", err)
	}
	return c.decodeJob(job.Kind, resp)
}

// SuccessfulResults downloads the rows the job accepted.
func (c *Client) SuccessfulResults(ctx context.Context, job *domain.Job) ([]byte, error) {
	return c.download(ctx, job, "successfulResults")
}

// FailedResults downloads the rows the job rejected, with their errors.
func (c *Client) FailedResults(ctx context.Context, job *domain.Job) ([]byte, error) {
	return c.download(ctx, job, "failedResults")
}

// UnprocessedRecords downloads the rows the job never reached.
func (c *Client) UnprocessedRecords(ctx context.Context, job *domain.Job) ([]byte, error) {
	return c.download(ctx, job, "unprocessedrecords")
}

func (c *Client) download(ctx context.Context, job *domain.Job, resource string) ([]byte, error) {
	resp, err := c.http.Do(ctx, &transport.Request{
		Method:  http.MethodGet,
		Path:    c.jobPath(job, resource) + "/",
		Headers: map[string]string{"Accept": contentCSV},
	})
	if err != nil {
		return nil, apiError("download "+resource, err)
	}
	return resp.Body, nil
}

// QueryResults fetches one page of query output. An empty locator asks for the
// first page; the returned locator is empty after the last page.
func (c *Client) QueryResults(ctx context.Context, job *domain.Job, locator string) ([]byte, string, error) {
	query := url.Values{}
	if locator != "" {
		query.Set("locator", locator)
	}
	if c.config.PageSize > 0 {
		query.Set("maxRecords", strconv.Itoa(c.config.PageSize))
	}
	resp, err := c.http.Do(ctx, &transport.Request{
		Method:  http.MethodGet,
		Path:    c.jobPath(job, "results"),
		Query:   query,
		Headers: map[string]string{"Accept": contentCSV},
	})
	if err != nil {
		return nil, "", apiError("query results", err)
	}
	next := resp.Headers.Get(locatorHeader)
	if next == "null" {
		next = ""
	}
	return resp.Body, next, nil
}

func (c *Client) decodeJob(kind domain.JobKind, resp *transport.Response) (*domain.Job, error) {
	var info jobInfo
	if err := resp.JSON(&info); err != nil {
		return nil, fmt.Errorf("bulkapi: decode job: %w", err)
	}
	if info.ID == "" {
		return nil, fmt.Errorf("bulkapi: job response has no id")
	}

	job := &domain.Job{
		ID:               info.ID,
		Kind:             kind,
		Operation:        domain.Operation(info.Operation),
		Object:           info.Object,
		State:            domain.JobState(info.State),
		ExternalIDField:  info.ExternalIDFieldName,
		RecordsProcessed: info.NumberRecordsProcessed,
		RecordsFailed:    info.NumberRecordsFailed,
		ErrorMessage:     info.ErrorMessage,
	}
	if info.CreatedDate != "" {
		created, err := time.Parse(dateLayout, info.CreatedDate)
		if err != nil {
			c.logger.Warn("Unparseable job creation date",
				zap.String("job_id", info.ID),
				zap.String("created_date", info.CreatedDate),
			)
		} else {
			job.CreatedAt = created
		}
	}
	return job, nil
}

// APIError is an error response from the bulk API.
type APIError struct {
	Action     string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("bulkapi: %s: %s: %s", e.Action, e.Code, e.Message)
	}
	return fmt.Sprintf("bulkapi: %s: %v", e.Action, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

func (e *APIError) Is(target error) bool {
	return target == domain.ErrJobNotFound && e.StatusCode == http.StatusNotFound
}

type errorBody struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

func apiError(action string, err error) error {
	var httpErr *transport.HTTPError
	if !errors.As(err, &httpErr) {
		return fmt.Errorf("bulkapi: %s: %w", action, err)
	}
	apiErr := &APIError{Action: action, StatusCode: httpErr.StatusCode, Err: err}
	var bodies []errorBody
	if json.Unmarshal([]byte(httpErr.Message), &bodies) == nil && len(bodies) > 0 {
		apiErr.Code = bodies[0].ErrorCode
		apiErr.Message = bodies[0].Message
	}
	return apiErr
}
