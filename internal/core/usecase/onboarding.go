package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/kirillkom/tagging-coordinator/internal/core/domain"
	"github.com/kirillkom/tagging-coordinator/internal/core/ports"
)

// OnboardUseCase moves uploaded blobs into the tagging pipeline. Request only
// enqueues; Process runs in the worker.
type OnboardUseCase struct {
	users              ports.UserDirectory
	store              ports.TaggingStore
	blobs              ports.BlobStore
	queue              ports.OnboardingQueue
	observer           ports.TaggingObserver
	permanentContainer string
}

func NewOnboardUseCase(
	users ports.UserDirectory,
	store ports.TaggingStore,
	blobs ports.BlobStore,
	queue ports.OnboardingQueue,
	observer ports.TaggingObserver,
	permanentContainer string,
) *OnboardUseCase {
	return &OnboardUseCase{
		users:              users,
		store:              store,
		blobs:              blobs,
		queue:              queue,
		observer:           observerOrNoop(observer),
		permanentContainer: permanentContainer,
	}
}

func (uc *OnboardUseCase) Request(ctx context.Context, req domain.OnboardRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if err := uc.queue.PublishOnboardRequest(ctx, req); err != nil {
		return fmt.Errorf("publish onboard request: %w", err)
	}
	return nil
}

// Process registers every image as NOT_READY, copies each blob to
// "<id><ext>" in the permanent container and then promotes the whole request
// to READY_TO_TAG. The returned map is keyed by the temporary location.
func (uc *OnboardUseCase) Process(ctx context.Context, req domain.OnboardRequest) (map[string]int64, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	userID, err := uc.users.ResolveUser(ctx, req.UserName)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	images := make([]domain.NewImage, 0, len(req.Images))
	for _, img := range req.Images {
		location, err := uc.blobs.Resolve(ctx, img.Container, img.BlobName)
		if err != nil {
			return nil, fmt.Errorf("resolve blob %s/%s: %w", img.Container, img.BlobName, err)
		}
		name := img.FileName
		if strings.TrimSpace(name) == "" {
			name = path.Base(img.BlobName)
		}
		images = append(images, domain.NewImage{
			Name:     name,
			Location: location,
			Height:   img.Height,
			Width:    img.Width,
		})
	}

	ids, err := uc.store.RegisterImages(ctx, images, userID)
	if err != nil {
		return nil, fmt.Errorf("register images: %w", err)
	}

	permanent := make(map[int64]string, len(ids))
	for i, img := range req.Images {
		id, ok := ids[images[i].Location]
		if !ok {
			return nil, domain.WrapError(domain.ErrConsistency, "onboard images", fmt.Errorf("no id registered for %s", images[i].Location))
		}
		dst := fmt.Sprintf("%d%s", id, strings.ToLower(path.Ext(img.BlobName)))
		location, err := uc.blobs.Copy(ctx, img.Container, img.BlobName, uc.permanentContainer, dst)
		if err != nil {
			return nil, fmt.Errorf("copy blob %s to %s: %w", img.BlobName, dst, err)
		}
		permanent[id] = location
	}

	if err := uc.store.UpdateLocations(ctx, permanent, userID); err != nil {
		return nil, fmt.Errorf("update locations: %w", err)
	}

	slog.InfoContext(ctx, "images_onboarded", "user", req.UserName, "count", len(permanent))
	uc.observer.ObserveOnboarded(len(permanent))
	return ids, nil
}
