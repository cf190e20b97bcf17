package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/tagging-coordinator/internal/core/domain"
	"github.com/kirillkom/tagging-coordinator/internal/core/ports"
	"github.com/kirillkom/tagging-coordinator/internal/core/vott"
)

// QueryUseCase serves read-only views. It never changes tag state.
type QueryUseCase struct {
	store    ports.TaggingStore
	registry ports.ClassificationRegistry
	encoder  *vott.Encoder
}

func NewQueryUseCase(store ports.TaggingStore, registry ports.ClassificationRegistry, encoder *vott.Encoder) *QueryUseCase {
	if encoder == nil {
		encoder = vott.NewEncoder()
	}
	return &QueryUseCase{store: store, registry: registry, encoder: encoder}
}

func (uc *QueryUseCase) Images(ctx context.Context, states []domain.ImageTagState, limit int) ([]domain.ImageRef, error) {
	refs, err := uc.store.QueryByState(ctx, states, limit)
	if err != nil {
		return nil, fmt.Errorf("query images by state: %w", err)
	}
	return refs, nil
}

// LabelDocument renders images in states with their curated labels as a
// document, without checking them out. NOT_READY images still sit at their
// upload names, which do not carry an image id, so they cannot be rendered.
func (uc *QueryUseCase) LabelDocument(ctx context.Context, states []domain.ImageTagState, limit int) (vott.Document, error) {
	for _, s := range states {
		if s == domain.StateNotReady {
			return vott.Document{}, domain.Invalid("label document", "%s images have no permanent location yet", s)
		}
	}
	refs, err := uc.store.QueryByState(ctx, states, limit)
	if err != nil {
		return vott.Document{}, fmt.Errorf("query images by state: %w", err)
	}
	ids := make([]int64, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID
	}
	labels, err := uc.store.GetLabelsForImages(ctx, ids)
	if err != nil {
		return vott.Document{}, fmt.Errorf("get labels: %w", err)
	}
	vocabulary, err := uc.registry.List(ctx)
	if err != nil {
		return vott.Document{}, fmt.Errorf("list classifications: %w", err)
	}

	images := make(map[int64]domain.ImageLabel, len(labels))
	for _, l := range labels {
		images[l.ImageID] = l
	}
	return uc.encoder.Encode(images, vocabulary)
}

func (uc *QueryUseCase) AllLabels(ctx context.Context) ([]domain.ImageLabel, error) {
	labels, err := uc.store.GetLabels(ctx)
	if err != nil {
		return nil, fmt.Errorf("get labels: %w", err)
	}
	return labels, nil
}

func (uc *QueryUseCase) History(ctx context.Context, imageID int64) ([]domain.StateChange, error) {
	history, err := uc.store.History(ctx, imageID)
	if err != nil {
		return nil, fmt.Errorf("image history: %w", err)
	}
	return history, nil
}

// ClassificationMap returns ids for names, registering names seen for the first time.
func (uc *QueryUseCase) ClassificationMap(ctx context.Context, names []string) (map[string]int64, error) {
	ids, err := uc.registry.Upsert(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("upsert classifications: %w", err)
	}
	return ids, nil
}
