package ports

import (
	"context"
	"time"

	"github.com/kirillkom/tagging-coordinator/internal/core/domain"
)

// UserDirectory maps user names to durable ids, creating users on first sight.
type UserDirectory interface {
	ResolveUser(ctx context.Context, name string) (int64, error)
}

// ClassificationRegistry resolves classification names to ids without ever
// issuing two ids for one name. Names are matched exactly, case and
// whitespace included, and the returned map is keyed by the caller's names.
type ClassificationRegistry interface {
	Upsert(ctx context.Context, names []string) (map[string]int64, error)
	List(ctx context.Context) ([]string, error)
}

// TaggingStore owns image metadata, tag state and curated labels.
type TaggingStore interface {
	RegisterImages(ctx context.Context, images []domain.NewImage, creator int64) (map[string]int64, error)
	UpdateLocations(ctx context.Context, locations map[int64]string, actor int64) error
	Checkout(ctx context.Context, count int, actor int64) ([]domain.ImageLabel, error)
	RecordCompletedWithTags(ctx context.Context, labels []domain.AnnotatedLabel, actor int64) error
	RecordCompletedWithoutTags(ctx context.Context, imageIDs []int64, actor int64) error
	RecordIncomplete(ctx context.Context, imageIDs []int64, actor int64) error
	RecordCheckin(ctx context.Context, checkin domain.Checkin, actor int64) error
	Abandon(ctx context.Context, imageIDs []int64, actor int64) error
	ReclaimExpired(ctx context.Context, olderThan time.Duration, actor int64) ([]int64, error)

	QueryByState(ctx context.Context, states []domain.ImageTagState, limit int) ([]domain.ImageRef, error)
	QueryByIDs(ctx context.Context, imageIDs []int64) ([]domain.ImageInfo, error)
	GetLabels(ctx context.Context) ([]domain.ImageLabel, error)
	GetLabelsForImages(ctx context.Context, imageIDs []int64) ([]domain.ImageLabel, error)
	History(ctx context.Context, imageID int64) ([]domain.StateChange, error)
	CountTaggedImages(ctx context.Context) (domain.TagCounts, error)
}

// TrainingStore records training runs and their predictions.
type TrainingStore interface {
	CreateTrainingSession(ctx context.Context, session domain.TrainingSession) (int64, error)
	AddPredictionLabels(ctx context.Context, labels []domain.PredictionLabel, trainingID int64) error
}

// BlobStore confirms blob existence and yields fetchable locations.
type BlobStore interface {
	Resolve(ctx context.Context, container, name string) (string, error)
	Copy(ctx context.Context, srcContainer, srcName, dstContainer, dstName string) (string, error)
}

// OnboardingQueue publishes/consumes onboarding requests.
type OnboardingQueue interface {
	PublishOnboardRequest(ctx context.Context, req domain.OnboardRequest) error
	SubscribeOnboardRequests(ctx context.Context, handler func(context.Context, domain.OnboardRequest) error) error
}

// TaggingObserver receives pipeline counters. Implementations must be safe for concurrent use.
type TaggingObserver interface {
	ObserveCheckout(images int)
	ObserveCheckin(summary domain.CheckinSummary)
	ObserveOnboarded(images int)
	ObserveReclaimed(images int)
}
