// Package metadataapi is the SOAP client for deploy and retrieve jobs.
package metadataapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/crmjobs/internal/domain"
	"github.com/Harsh-BH/crmjobs/internal/metadata"
	"github.com/Harsh-BH/crmjobs/internal/remote"
	"github.com/Harsh-BH/crmjobs/internal/transport"
)

var _ remote.MetadataAPI = (*Client)(nil)

// Config holds metadata API settings.
type Config struct {
	APIVersion string
	Session    transport.SessionSource
}

// Client drives deploy and retrieve jobs over the SOAP metadata API.
type Client struct {
	http   *transport.Client
	config Config
	logger *zap.Logger
}

// NewClient creates a metadata client on top of a transport pointed at the
// instance URL.
func NewClient(hc *transport.Client, config Config, logger *zap.Logger) *Client {
	if config.APIVersion == "" {
		config.APIVersion = metadata.DefaultAPIVersion
	}
	return &Client{http: hc, config: config, logger: logger}
}

func (c *Client) path() string {
	return "services/Soap/m/" + c.config.APIVersion
}

func (c *Client) call(ctx context.Context, action string, request, response any) error {
	session := ""
	if c.config.Session != nil {
		session = c.config.Session.SessionToken()
	}
	body, err := xml.Marshal(newEnvelope(session, request))
	if err != nil {
		return fmt.Errorf("metadataapi: encode %s: %w", action, err)
	}

	resp, err := c.http.Do(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   c.path(),
		Body:   append([]byte(xml.Header), body...),
		Headers: map[string]string{
			"Content-Type": "text/xml; charset=UTF-8",
			"SOAPAction":   `"` + action + `"`,
		},
	})
	if err != nil {
		var httpErr *transport.HTTPError
		if errors.As(err, &httpErr) {
			if fault := parseFault([]byte(httpErr.Message)); fault != nil {
				return fmt.Errorf("%s: %w", action, fault)
			}
		}
		return fmt.Errorf("metadataapi: %s: %w", action, err)
	}

	var env responseEnvelope
	if err := xml.Unmarshal(resp.Body, &env); err != nil {
		return fmt.Errorf("metadataapi: decode %s response: %w", action, err)
	}
	if env.Body.Fault != nil {
		return fmt.Errorf("%s: %w", action, env.Body.Fault)
	}
	if err := xml.Unmarshal(bytes.TrimSpace(env.Body.Inner), response); err != nil {
		return fmt.Errorf("metadataapi: decode %s result: %w", action, err)
	}
	return nil
}

func parseFault(data []byte) *Fault {
	var env responseEnvelope
	if xml.Unmarshal(data, &env) != nil {
		return nil
	}
	return env.Body.Fault
}

// CreateJob starts a deploy from a zip archive or a retrieve from a package
// manifest, both carried in spec.Payload.
func (c *Client) CreateJob(ctx context.Context, spec *domain.JobSpec) (*domain.Job, error) {
	switch spec.Kind {
	case domain.KindDeploy:
		return c.deploy(ctx, spec)
	case domain.KindRetrieve:
		return c.retrieve(ctx, spec)
	default:
		return nil, fmt.Errorf("metadataapi: unsupported job kind %q", spec.Kind)
	}
}

func (c *Client) deploy(ctx context.Context, spec *domain.JobSpec) (*domain.Job, error) {
	opts := metadata.DeployOptionsFrom(spec.Options)
	req := deployRequest{
		ZipFile: base64.StdEncoding.EncodeToString(spec.Payload),
		Options: deployOptions{
			CheckOnly:       opts.CheckOnly,
			IgnoreWarnings:  opts.IgnoreWarnings,
			RollbackOnError: opts.RollbackOnError,
			RunTests:        opts.RunTests,
			SinglePackage:   opts.SinglePackage,
			TestLevel:       opts.TestLevel,
		},
	}
	var resp deployResponse
	if err := c.call(ctx, "deploy", req, &resp); err != nil {
		return nil, err
	}
	return asyncJob(domain.KindDeploy, domain.OpDeploy, resp.Result)
}

func (c *Client) retrieve(ctx context.Context, spec *domain.JobSpec) (*domain.Job, error) {
	manifest, err := metadata.DecodeManifest(spec.Payload)
	if err != nil {
		return nil, err
	}
	version := manifest.APIVersion
	if version == "" {
		version = c.config.APIVersion
	}
	req := retrieveRequest{Request: retrieveOptions{
		APIVersion:    version,
		SinglePackage: true,
		Unpackaged:    packageFilter{Version: version},
	}}
	for _, g := range manifest.Groups() {
		req.Request.Unpackaged.Types = append(req.Request.Unpackaged.Types, packageTypes{Members: g.Members, Name: g.Name})
	}

	var resp retrieveResponse
	if err := c.call(ctx, "retrieve", req, &resp); err != nil {
		return nil, err
	}
	return asyncJob(domain.KindRetrieve, domain.OpRetrieve, resp.Result)
}

func asyncJob(kind domain.JobKind, op domain.Operation, r asyncResult) (*domain.Job, error) {
	if r.ID == "" {
		return nil, fmt.Errorf("metadataapi: %s response has no id", op)
	}
	job := &domain.Job{ID: r.ID, Kind: kind, Operation: op, State: domain.StateQueued, CreatedAt: time.Now().UTC()}
	switch r.State {
	case "InProgress", "Completed":
		job.State = domain.StateInProgress
	case "Error":
		job.State = domain.StateFailed
		job.ErrorMessage = r.Message
	}
	return job, nil
}

// UploadPayload is not part of the metadata lifecycle: payloads travel inline
// with the create call.
func (c *Client) UploadPayload(ctx context.Context, job *domain.Job, payload []byte) error {
	return fmt.Errorf("metadataapi: %s jobs take their payload inline", job.Kind)
}

// CloseJob is not part of the metadata lifecycle.
func (c *Client) CloseJob(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	return nil, fmt.Errorf("metadataapi: %s jobs cannot be closed", job.Kind)
}

// JobStatus returns a fresh snapshot without component details.
func (c *Client) JobStatus(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	switch job.Kind {
	case domain.KindDeploy:
		r, err := c.checkDeploy(ctx, job.ID, false)
		if err != nil {
			return nil, err
		}
		return deployJob(job, r), nil
	case domain.KindRetrieve:
		r, err := c.checkRetrieve(ctx, job.ID, false)
		if err != nil {
			return nil, err
		}
		return retrieveJob(job, r), nil
	default:
		return nil, fmt.Errorf("metadataapi: unsupported job kind %q", job.Kind)
	}
}

// AbortJob cancels a deploy. Retrieves cannot be cancelled.
func (c *Client) AbortJob(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	if job.Kind != domain.KindDeploy {
		return nil, fmt.Errorf("metadataapi: %w: %s", domain.ErrAbortUnsupported, job.Kind)
	}
	var resp cancelDeployResponse
	if err := c.call(ctx, "cancelDeploy", cancelDeployRequest{ID: job.ID}, &resp); err != nil {
		return nil, err
	}
	out := job.Clone()
	if resp.Result.Done {
		out.State = domain.StateAborted
	}
	return out, nil
}

// DeployReport returns the per-component outcome and test summary of a deploy.
func (c *Client) DeployReport(ctx context.Context, job *domain.Job) (*metadata.DeployReport, error) {
	r, err := c.checkDeploy(ctx, job.ID, true)
	if err != nil {
		return nil, err
	}
	report := &metadata.DeployReport{
		Success:      r.Success,
		Status:       r.Status,
		ErrorMessage: r.ErrorMessage,
	}
	for _, m := range r.Details.ComponentSuccesses {
		// The package manifest itself is reported as a success entry.
		if m.FullName == "package.xml" {
			continue
		}
		report.Components = append(report.Components, outcome(m))
	}
	for _, m := range r.Details.ComponentFailures {
		report.Components = append(report.Components, outcome(m))
	}
	if rt := r.Details.RunTestResult; rt != nil {
		tests := &metadata.TestSummary{
			NumTestsRun: rt.NumTestsRun,
			NumFailures: rt.NumFailures,
			TotalTime:   rt.TotalTime,
		}
		for _, f := range rt.Failures {
			tests.Failures = append(tests.Failures, metadata.TestFailure{
				Name:       f.Name,
				MethodName: f.MethodName,
				Message:    f.Message,
				StackTrace: f.StackTrace,
				Time:       f.Time,
			})
		}
		report.Tests = tests
	}
	return report, nil
}

func outcome(m deployMessage) metadata.ComponentOutcome {
	return metadata.ComponentOutcome{
		Type:        metadata.Type(m.ComponentType),
		FullName:    m.FullName,
		FileName:    m.FileName,
		Success:     m.Success,
		Created:     m.Created,
		Changed:     m.Changed,
		Deleted:     m.Deleted,
		Problem:     m.Problem,
		ProblemType: m.ProblemType,
		Line:        m.LineNumber,
		Column:      m.ColumnNumber,
	}
}

// RetrieveReport returns the retrieved archive and its file listing.
func (c *Client) RetrieveReport(ctx context.Context, job *domain.Job) (*metadata.RetrieveReport, error) {
	r, err := c.checkRetrieve(ctx, job.ID, true)
	if err != nil {
		return nil, err
	}
	report := &metadata.RetrieveReport{
		Success:      r.Success,
		Status:       r.Status,
		ErrorMessage: r.ErrorMessage,
	}
	if r.ZipFile != "" {
		zip, err := base64.StdEncoding.DecodeString(r.ZipFile)
		if err != nil {
			return nil, fmt.Errorf("metadataapi: decode retrieved archive: %w", err)
		}
		report.ZipFile = zip
	}
	for _, f := range r.FileProperties {
		report.Files = append(report.Files, metadata.FileProperties{
			FileName: f.FileName,
			FullName: f.FullName,
			Type:     metadata.Type(f.Type),
		})
	}
	for _, m := range r.Messages {
		report.Messages = append(report.Messages, fmt.Sprintf("%s: %s", m.FileName, m.Problem))
	}
	return report, nil
}

func (c *Client) checkDeploy(ctx context.Context, id string, details bool) (*deployResult, error) {
	var resp checkDeployStatusResponse
	req := checkDeployStatusRequest{AsyncProcessID: id, IncludeDetails: details}
	if err := c.call(ctx, "checkDeployStatus", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Result, nil
}

func (c *Client) checkRetrieve(ctx context.Context, id string, includeZip bool) (*retrieveResult, error) {
	var resp checkRetrieveStatusResponse
	req := checkRetrieveStatusRequest{AsyncProcessID: id, IncludeZip: includeZip}
	if err := c.call(ctx, "checkRetrieveStatus", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Result, nil
}

func deployJob(prev *domain.Job, r *deployResult) *domain.Job {
	job := prev.Clone()
	job.State = mapStatus(r.Status)
	job.RecordsProcessed = r.NumberComponentsDeployed + r.NumberComponentErrors
	job.RecordsFailed = r.NumberComponentErrors
	job.ErrorMessage = r.ErrorMessage
	if created, err := time.Parse(time.RFC3339, r.CreatedDate); err == nil {
		job.CreatedAt = created
	}
	return job
}

func retrieveJob(prev *domain.Job, r *retrieveResult) *domain.Job {
	job := prev.Clone()
	job.State = mapStatus(r.Status)
	job.ErrorMessage = r.ErrorMessage
	return job
}

// mapStatus translates metadata API statuses onto the shared job lifecycle.
func mapStatus(status string) domain.JobState {
	switch status {
	case "InProgress", "Canceling":
		return domain.StateInProgress
	case "Succeeded", "SucceededPartial":
		return domain.StateComplete
	case "Failed":
		return domain.StateFailed
	case "Canceled":
		return domain.StateAborted
	default:
		return domain.StateQueued
	}
}
