package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Harsh-BH/crmjobs/internal/domain"
	"github.com/Harsh-BH/crmjobs/internal/pool"
	"github.com/Harsh-BH/crmjobs/internal/rowcodec"
	"github.com/Harsh-BH/crmjobs/internal/usecase"
)

var bulkCmd = &cobra.Command{
	Use:   "bulk",
	Short: "Load, delete and query records with bulk jobs",
}

// ingestFunc submits one chunk of records.
type ingestFunc func(ctx context.Context, a *app, object string, records []domain.Record, opts []usecase.RunOption) (*domain.BulkResult, error)

func newIngestCmd(use, short string, op domain.Operation, run ingestFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long: short + `.

Records are read from a CSV file whose header names the fields. Large files
are split into chunks that run as separate jobs, several at a time. The
combined result is printed as JSON with indices into the input file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			object, _ := cmd.Flags().GetString("object")
			file, _ := cmd.Flags().GetString("file")

			records, err := readRecords(file)
			if err != nil {
				return err
			}
			if op.IsDelete() {
				records = idsOnly(records)
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := runChunked(ctx, cmd, records, func(ctx context.Context, chunk []domain.Record, opts []usecase.RunOption) (*domain.BulkResult, error) {
				return run(ctx, a, object, chunk, opts)
			})
			if result != nil {
				if perr := printJSON(result); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().String("object", "", "target object name (required)")
	cmd.Flags().String("file", "", "CSV file with the records (required)")
	_ = cmd.MarkFlagRequired("object")
	_ = cmd.MarkFlagRequired("file")
	addRunFlags(cmd)
	cmd.Flags().Int("chunk-size", 0, "records per job (default BULK_CHUNK_SIZE)")
	cmd.Flags().Int("parallel", 0, "jobs in flight at once (default WORKER_POOL_SIZE)")
	return cmd
}

func newQueryCmd(use, short string, all bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <query>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := runOptionsFrom(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			var result *domain.QueryResult
			if all {
				result, err = a.bulk.QueryAll(ctx, args[0], opts...)
			} else {
				result, err = a.bulk.Query(ctx, args[0], opts...)
			}
			if err != nil {
				return err
			}
			data, _, err := rowcodec.Encode(result.Records, rowcodec.WithColumns(result.Header...))
			if err != nil {
				return err
			}
			_, err = stdout.Write(data)
			return err
		},
	}
	addRunFlags(cmd)
	return cmd
}

func init() {
	bulkCmd.AddCommand(
		newIngestCmd("insert", "Insert records", domain.OpInsert,
			func(ctx context.Context, a *app, object string, records []domain.Record, opts []usecase.RunOption) (*domain.BulkResult, error) {
				return a.bulk.Insert(ctx, object, records, opts...)
			}),
		newIngestCmd("update", "Update records by Id", domain.OpUpdate,
			func(ctx context.Context, a *app, object string, records []domain.Record, opts []usecase.RunOption) (*domain.BulkResult, error) {
				return a.bulk.Update(ctx, object, records, opts...)
			}),
		newIngestCmd("delete", "Delete records by Id", domain.OpDelete,
			func(ctx context.Context, a *app, object string, records []domain.Record, opts []usecase.RunOption) (*domain.BulkResult, error) {
				return a.bulk.Delete(ctx, object, recordIDs(records), opts...)
			}),
		newIngestCmd("hard-delete", "Delete records by Id, bypassing the recycle bin", domain.OpHardDelete,
			func(ctx context.Context, a *app, object string, records []domain.Record, opts []usecase.RunOption) (*domain.BulkResult, error) {
				return a.bulk.HardDelete(ctx, object, recordIDs(records), opts...)
			}),
		newUpsertCmd(),
		newQueryCmd("query", "Run a query and print the rows as CSV", false),
		newQueryCmd("query-all", "Run a query that includes deleted and archived rows", true),
	)
}

func newUpsertCmd() *cobra.Command {
	var externalID string
	cmd := newIngestCmd("upsert", "Insert or update records matched on an external id field", domain.OpUpsert,
		func(ctx context.Context, a *app, object string, records []domain.Record, opts []usecase.RunOption) (*domain.BulkResult, error) {
			return a.bulk.Upsert(ctx, object, externalID, records, opts...)
		})
	cmd.Flags().StringVar(&externalID, "external-id", "", "external id field to match on (required)")
	_ = cmd.MarkFlagRequired("external-id")
	return cmd
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("idempotency-key", "", "reject a second submission with the same key")
	cmd.Flags().Duration("timeout", 0, "stop waiting after this long (default POLL_TIMEOUT); the remote job keeps running")
}

func runOptionsFrom(cmd *cobra.Command) ([]usecase.RunOption, error) {
	var opts []usecase.RunOption
	if key, _ := cmd.Flags().GetString("idempotency-key"); key != "" {
		opts = append(opts, usecase.WithIdempotencyKey(key))
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout < 0 {
		return nil, fmt.Errorf("--timeout must be positive")
	}
	if timeout > 0 {
		opts = append(opts, usecase.WithTimeout(timeout))
	}
	return opts, nil
}

func readRecords(path string) ([]domain.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	table, err := rowcodec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return table.Rows, nil
}

// idsOnly keeps the Id column so delete payloads never carry other fields.
func idsOnly(records []domain.Record) []domain.Record {
	return domain.RecordsFromIDs(recordIDs(records))
}

func recordIDs(records []domain.Record) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		if id, ok := r["Id"].(string); ok {
			ids[i] = id
		}
	}
	return ids
}

// chunkFunc submits one chunk with its own run options.
type chunkFunc func(ctx context.Context, chunk []domain.Record, opts []usecase.RunOption) (*domain.BulkResult, error)

// runChunked splits records into jobs of --chunk-size and runs up to
// --parallel of them at once. Indices in the merged result refer to the
// full input. Chunks that fail outright are reported together after every
// chunk has finished; their rows are absent from the merged result.
func runChunked(ctx context.Context, cmd *cobra.Command, records []domain.Record, run chunkFunc) (*domain.BulkResult, error) {
	opts, err := runOptionsFrom(cmd)
	if err != nil {
		return nil, err
	}
	chunkSize, _ := cmd.Flags().GetInt("chunk-size")
	if chunkSize <= 0 {
		chunkSize = cfg.Worker.ChunkSize
	}
	parallel, _ := cmd.Flags().GetInt("parallel")
	if parallel <= 0 {
		parallel = cfg.Worker.PoolSize
	}
	key, _ := cmd.Flags().GetString("idempotency-key")
	return executeChunks(ctx, records, chunkSize, parallel, key, opts, run)
}

func executeChunks(ctx context.Context, records []domain.Record, chunkSize, parallel int, key string, opts []usecase.RunOption, run chunkFunc) (*domain.BulkResult, error) {
	chunks := splitChunks(records, chunkSize)
	if len(chunks) <= 1 {
		return run(ctx, records, opts)
	}

	printStep("Submitting %d records as %d jobs (%d at a time)", len(records), len(chunks), parallel)
	results := make([]*domain.BulkResult, len(chunks))
	tasks := make([]*pool.Task, len(chunks))
	for i, chunk := range chunks {
		chunkOpts := opts
		if key != "" {
			chunkOpts = append(append([]usecase.RunOption{}, opts...), usecase.WithIdempotencyKey(fmt.Sprintf("%s-%d", key, i)))
		}
		tasks[i] = &pool.Task{
			Name: fmt.Sprintf("chunk-%d", i),
			Run: func(ctx context.Context) error {
				r, err := run(ctx, chunk, chunkOpts)
				results[i] = r
				return err
			},
		}
	}

	merged := &domain.BulkResult{}
	var errs []error
	offset := 0
	for i, res := range pool.RunAll(ctx, parallel, tasks, logger) {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("chunk %d (rows %d-%d): %w", i, offset, offset+len(chunks[i])-1, res.Err))
		} else if results[i] != nil {
			merged.Merge(results[i], offset)
		}
		offset += len(chunks[i])
	}
	return merged, errors.Join(errs...)
}

func splitChunks(records []domain.Record, size int) [][]domain.Record {
	if size <= 0 || len(records) <= size {
		return [][]domain.Record{records}
	}
	var chunks [][]domain.Record
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		chunks = append(chunks, records[start:end])
	}
	return chunks
}
