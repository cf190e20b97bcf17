package bootstrap

import (
	"context"
	"fmt"

	"github.com/kirillkom/tagging-coordinator/internal/config"
	"github.com/kirillkom/tagging-coordinator/internal/core/ports"
	"github.com/kirillkom/tagging-coordinator/internal/core/usecase"
	"github.com/kirillkom/tagging-coordinator/internal/core/vott"
	"github.com/kirillkom/tagging-coordinator/internal/infrastructure/queue/nats"
	"github.com/kirillkom/tagging-coordinator/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/tagging-coordinator/internal/infrastructure/resilience"
	"github.com/kirillkom/tagging-coordinator/internal/infrastructure/storage/localfs"
)

type App struct {
	Config config.Config

	Queue *nats.Queue
	Blobs *localfs.Storage

	SessionUC  *usecase.TaggingSessionUseCase
	QueryUC    *usecase.QueryUseCase
	OnboardUC  *usecase.OnboardUseCase
	TrainingUC *usecase.TrainingUseCase
	ReclaimUC  *usecase.ReclaimUseCase

	closeFn func()
}

// New wires the stores, blob storage and queue into the use cases. observer
// receives pipeline events and may be nil.
func New(ctx context.Context, cfg config.Config, observer ports.TaggingObserver) (*App, error) {
	rules, err := config.LoadReadinessRules(cfg.TrainingRulesFile)
	if err != nil {
		return nil, fmt.Errorf("load training rules: %w", err)
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	registry := postgres.NewClassificationRegistry(db)
	tagging := postgres.NewTaggingRepository(db, registry)
	training := postgres.NewTrainingRepository(db)
	users := postgres.NewUserRepository(db)

	executor := resilience.NewExecutor(cfg.Resilience)

	blobs, err := localfs.NewWithOptions(cfg.StoragePath, localfs.Options{
		BaseURL:            cfg.BlobBaseURL,
		ResilienceExecutor: executor,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init blob storage: %w", err)
	}

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	encoder := vott.NewEncoder()

	return &App{
		Config: cfg,
		Queue:  queue,
		Blobs:  blobs,

		SessionUC:  usecase.NewTaggingSessionUseCase(users, tagging, registry, encoder, observer),
		QueryUC:    usecase.NewQueryUseCase(tagging, registry, encoder),
		OnboardUC:  usecase.NewOnboardUseCase(users, tagging, blobs, queue, observer, cfg.PermanentContainer),
		TrainingUC: usecase.NewTrainingUseCase(tagging, training, rules),
		ReclaimUC:  usecase.NewReclaimUseCase(users, tagging, observer, cfg.CheckoutLease, cfg.ReclaimUser),

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
