package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Harsh-BH/crmjobs/internal/config"
	handler "github.com/Harsh-BH/crmjobs/internal/delivery/http"
	"github.com/Harsh-BH/crmjobs/internal/poller"
	"github.com/Harsh-BH/crmjobs/internal/publisher"
	"github.com/Harsh-BH/crmjobs/internal/remote/bulkapi"
	"github.com/Harsh-BH/crmjobs/internal/remote/metadataapi"
	"github.com/Harsh-BH/crmjobs/internal/repository"
	"github.com/Harsh-BH/crmjobs/internal/repository/objectstore"
	"github.com/Harsh-BH/crmjobs/internal/repository/postgres"
	redisrepo "github.com/Harsh-BH/crmjobs/internal/repository/redis"
	"github.com/Harsh-BH/crmjobs/internal/transport"
	"github.com/Harsh-BH/crmjobs/internal/usecase"
)

// app holds the wired usecases and the connections backing them.
type app struct {
	bulk     *usecase.BulkUsecase
	metadata *usecase.MetadataUsecase
	jobs     *usecase.JobsUsecase
	checks   map[string]handler.HealthCheck
	closers  []func()
}

// newApp connects every configured dependency. Optional dependencies with an
// empty URL are skipped and the usecases run without them.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	if err := cfg.RequireCRM(); err != nil {
		return nil, err
	}

	a := &app{checks: map[string]handler.HealthCheck{}}
	deps := usecase.Dependencies{}

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("ping PostgreSQL: %w", err)
		}
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			a.Close()
			return nil, err
		}
		deps.Sink = postgres.NewPostgresOutcomeSink(pool)
		a.checks["postgres"] = pool.Ping
		logger.Info("Connected to PostgreSQL")
	}

	if cfg.Redis.URL != "" {
		opts, err := goredis.ParseURL(cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse Redis URL: %w", err)
		}
		rdb := goredis.NewClient(opts)
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("ping Redis: %w", err)
		}
		deps.Guard = redisrepo.NewRedisSubmissionGuard(rdb)
		a.checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		logger.Info("Connected to Redis")
	}

	if cfg.RabbitMQ.URL != "" {
		pub, err := publisher.NewRabbitMQPublisher(cfg.RabbitMQ.URL, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
		}
		a.closers = append(a.closers, func() { _ = pub.Close() })
		deps.Publisher = pub
		logger.Info("Connected to RabbitMQ")
	}

	store, err := newArchiveStore(ctx, cfg.ObjectStore)
	if err != nil {
		a.Close()
		return nil, err
	}

	auth := transport.BearerToken{Token: cfg.CRM.AccessToken}
	hc := transport.NewClient(&transport.ClientConfig{
		BaseURL:        cfg.CRM.InstanceURL,
		Auth:           auth,
		Timeout:        cfg.HTTP.Timeout,
		MaxRetries:     cfg.HTTP.MaxRetries,
		RetryBaseDelay: cfg.HTTP.RetryBaseDelay,
		RateLimit:      cfg.HTTP.RateLimit,
		RateBurst:      cfg.HTTP.RateBurst,
		UserAgent:      "crmjobs/" + version,
	}, logger)

	bulkClient := bulkapi.NewClient(hc, bulkapi.Config{
		APIVersion: cfg.CRM.APIVersion,
		Delimiter:  cfg.Delimiter(),
		CRLF:       cfg.CRM.LineEnding == "CRLF",
		PageSize:   cfg.CRM.QueryPageSize,
	}, logger)
	metaClient := metadataapi.NewClient(hc, metadataapi.Config{
		APIVersion: cfg.CRM.APIVersion,
		Session:    auth,
	}, logger)

	p := poller.NewPoller(cfg.PollPolicy(), logger)
	a.bulk = usecase.NewBulkUsecase(bulkClient, p, deps, logger)
	a.metadata = usecase.NewMetadataUsecase(metaClient, p, deps, store, cfg.CRM.APIVersion, logger)
	a.jobs = usecase.NewJobsUsecase(bulkClient, metaClient, p, deps, logger)
	return a, nil
}

// newArchiveStore returns nil when neither a bucket nor a directory is
// configured, in which case retrieved archives are only returned in memory.
func newArchiveStore(ctx context.Context, oc config.ObjectStoreConfig) (repository.ArchiveStore, error) {
	switch {
	case oc.Endpoint != "":
		store, err := objectstore.NewMinioStore(objectstore.MinioConfig{
			Endpoint:        oc.Endpoint,
			AccessKeyID:     oc.AccessKey,
			SecretAccessKey: oc.SecretKey,
			Bucket:          oc.Bucket,
			Region:          oc.Region,
			UseSSL:          oc.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to object store: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case oc.LocalDir != "":
		store, err := objectstore.NewLocalStore(oc.LocalDir)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, nil
	}
}

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
