package ports

import (
	"context"

	"github.com/kirillkom/tagging-coordinator/internal/core/domain"
	"github.com/kirillkom/tagging-coordinator/internal/core/vott"
)

// TaggingSession is the inbound contract for handing batches to taggers and taking them back.
type TaggingSession interface {
	Download(ctx context.Context, userName string, count int) (vott.Document, error)
	Upload(ctx context.Context, userName string, doc vott.Document) (domain.CheckinSummary, error)
	Abandon(ctx context.Context, userName string, imageIDs []int64) error
}

// LabelReader is the inbound read model over images, labels and the vocabulary.
type LabelReader interface {
	Images(ctx context.Context, states []domain.ImageTagState, limit int) ([]domain.ImageRef, error)
	LabelDocument(ctx context.Context, states []domain.ImageTagState, limit int) (vott.Document, error)
	AllLabels(ctx context.Context) ([]domain.ImageLabel, error)
	History(ctx context.Context, imageID int64) ([]domain.StateChange, error)
	ClassificationMap(ctx context.Context, names []string) (map[string]int64, error)
}

// Onboarder is the inbound contract for asynchronous image onboarding.
type Onboarder interface {
	Request(ctx context.Context, req domain.OnboardRequest) error
	Process(ctx context.Context, req domain.OnboardRequest) (map[string]int64, error)
}

type TrainingCoordinator interface {
	Readiness(ctx context.Context, rules *domain.ReadinessRules) (domain.ReadinessReport, error)
	RecordRun(ctx context.Context, session domain.TrainingSession, predictions []domain.PredictionLabel) (int64, error)
}

type LeaseReclaimer interface {
	Sweep(ctx context.Context) ([]int64, error)
}
