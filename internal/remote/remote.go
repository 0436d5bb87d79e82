// Package remote declares the job APIs the orchestrators drive. Concrete
// clients live in the bulkapi and metadataapi subpackages.
package remote

import (
	"context"

	"github.com/Harsh-BH/crmjobs/internal/domain"
	"github.com/Harsh-BH/crmjobs/internal/metadata"
	"github.com/Harsh-BH/crmjobs/internal/submitter"
)

// BulkAPI runs ingest and query jobs and serves their row payloads.
type BulkAPI interface {
	submitter.Backend
	SuccessfulResults(ctx context.Context, job *domain.Job) ([]byte, error)
	FailedResults(ctx context.Context, job *domain.Job) ([]byte, error)
	UnprocessedRecords(ctx context.Context, job *domain.Job) ([]byte, error)
	// QueryResults returns one page of query output and the locator of the
	// next page, which is empty after the last page.
	QueryResults(ctx context.Context, job *domain.Job, locator string) ([]byte, string, error)
}

// MetadataAPI runs deploy and retrieve jobs and serves their reports.
type MetadataAPI interface {
	submitter.Backend
	DeployReport(ctx context.Context, job *domain.Job) (*metadata.DeployReport, error)
	RetrieveReport(ctx context.Context, job *domain.Job) (*metadata.RetrieveReport, error)
}
