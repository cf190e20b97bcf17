package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/tagging-coordinator/internal/core/domain"
	"github.com/kirillkom/tagging-coordinator/internal/core/ports"
	"github.com/kirillkom/tagging-coordinator/internal/core/vott"
)

const (
	DefaultCheckoutCount = 40
	MaxCheckoutCount     = 100
)

// TaggingSessionUseCase hands batches to taggers and applies what they send back.
type TaggingSessionUseCase struct {
	users    ports.UserDirectory
	store    ports.TaggingStore
	registry ports.ClassificationRegistry
	encoder  *vott.Encoder
	observer ports.TaggingObserver
}

func NewTaggingSessionUseCase(
	users ports.UserDirectory,
	store ports.TaggingStore,
	registry ports.ClassificationRegistry,
	encoder *vott.Encoder,
	observer ports.TaggingObserver,
) *TaggingSessionUseCase {
	if encoder == nil {
		encoder = vott.NewEncoder()
	}
	return &TaggingSessionUseCase{
		users:    users,
		store:    store,
		registry: registry,
		encoder:  encoder,
		observer: observerOrNoop(observer),
	}
}

// Download checks out a batch for userName. A count of zero asks for the default batch size.
func (uc *TaggingSessionUseCase) Download(ctx context.Context, userName string, count int) (vott.Document, error) {
	if count == 0 {
		count = DefaultCheckoutCount
	}
	if count < 0 || count > MaxCheckoutCount {
		return vott.Document{}, domain.Invalid("download", "image count must be in (0, %d], got %d", MaxCheckoutCount, count)
	}

	userID, err := uc.users.ResolveUser(ctx, userName)
	if err != nil {
		return vott.Document{}, fmt.Errorf("resolve user: %w", err)
	}
	// Read the vocabulary before claiming so a failed read cannot strand a batch in TAG_IN_PROGRESS.
	vocabulary, err := uc.registry.List(ctx)
	if err != nil {
		return vott.Document{}, fmt.Errorf("list classifications: %w", err)
	}
	batch, err := uc.store.Checkout(ctx, count, userID)
	if err != nil {
		return vott.Document{}, fmt.Errorf("checkout images: %w", err)
	}

	images := make(map[int64]domain.ImageLabel, len(batch))
	for _, img := range batch {
		images[img.ImageID] = img
	}
	doc, err := uc.encoder.Encode(images, vocabulary)
	if err != nil {
		return vott.Document{}, err
	}
	uc.observer.ObserveCheckout(len(batch))
	return doc, nil
}

// Upload applies a returned document. Tagged and visited frames complete,
// frames never opened go back to the pool as INCOMPLETE_TAG.
func (uc *TaggingSessionUseCase) Upload(ctx context.Context, userName string, doc vott.Document) (domain.CheckinSummary, error) {
	userID, err := uc.users.ResolveUser(ctx, userName)
	if err != nil {
		return domain.CheckinSummary{}, fmt.Errorf("resolve user: %w", err)
	}

	trimmed, err := vott.TrimFramePaths(doc)
	if err != nil {
		return domain.CheckinSummary{}, err
	}
	partition, err := vott.Decode(trimmed)
	if err != nil {
		return domain.CheckinSummary{}, err
	}

	checkin := domain.Checkin{
		Labels:       partition.Labels,
		VisitedNoTag: partition.VisitedNoTag,
		NotVisited:   partition.NotVisited,
	}
	if err := uc.store.RecordCheckin(ctx, checkin, userID); err != nil {
		return domain.CheckinSummary{}, fmt.Errorf("record checkin: %w", err)
	}

	summary := partition.Summary()
	uc.observer.ObserveCheckin(summary)
	return summary, nil
}

// Abandon withdraws images from tagging for good. The whole set moves or none does.
func (uc *TaggingSessionUseCase) Abandon(ctx context.Context, userName string, imageIDs []int64) error {
	if len(imageIDs) == 0 {
		return domain.Invalid("abandon", "at least one image id is required")
	}
	userID, err := uc.users.ResolveUser(ctx, userName)
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}
	if err := uc.store.Abandon(ctx, domain.UniqueIDs(imageIDs), userID); err != nil {
		return fmt.Errorf("abandon images: %w", err)
	}
	return nil
}
