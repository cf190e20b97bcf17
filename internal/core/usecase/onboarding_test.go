package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/tagging-coordinator/internal/core/domain"
)

func onboardRequest() domain.OnboardRequest {
	return domain.OnboardRequest{
		UserName: "uploader",
		Images: []domain.OnboardImage{
			{Container: "temp", BlobName: "holiday/IMG_1.JPG", Height: 480, Width: 640},
			{Container: "temp", BlobName: "IMG_2.png", FileName: "cat.png", Height: 10, Width: 10},
		},
	}
}

func TestOnboardRequestPublishesValidRequests(t *testing.T) {
	queue := &queueFake{}
	uc := NewOnboardUseCase(&usersFake{}, newStoreFake(), &blobsFake{}, queue, nil, "perm")

	if err := uc.Request(context.Background(), onboardRequest()); err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if len(queue.published) != 1 {
		t.Fatalf("expected one published request, got %d", len(queue.published))
	}

	bad := onboardRequest()
	bad.Images[0].BlobName = "notes.txt"
	if err := uc.Request(context.Background(), bad); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if len(queue.published) != 1 {
		t.Fatalf("invalid request must not be published")
	}
}

func TestOnboardProcessRegistersCopiesAndPromotes(t *testing.T) {
	store := newStoreFake()
	blobs := &blobsFake{}
	observer := &observerFake{}
	uc := NewOnboardUseCase(&usersFake{}, store, blobs, &queueFake{}, observer, "perm")

	ids, err := uc.Process(context.Background(), onboardRequest())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 registered images, got %v", ids)
	}
	first := ids["https://blobs/temp/holiday/IMG_1.JPG"]
	if first == 0 {
		t.Fatalf("expected id for first temporary location, got %v", ids)
	}
	if store.stateOf(first) != domain.StateReadyToTag {
		t.Fatalf("expected READY_TO_TAG after onboarding, got %s", store.stateOf(first))
	}
	if blobs.copies[0] != "temp/holiday/IMG_1.JPG->perm/1.jpg" {
		t.Fatalf("unexpected copy %q", blobs.copies[0])
	}
	infos, _ := store.QueryByIDs(context.Background(), []int64{first, ids["https://blobs/temp/IMG_2.png"]})
	if infos[0].Location != "https://blobs/perm/1.jpg" || infos[0].Name != "IMG_1.JPG" {
		t.Fatalf("unexpected first image %+v", infos[0])
	}
	if infos[1].Name != "cat.png" {
		t.Fatalf("expected original file name to be kept, got %+v", infos[1])
	}
	if observer.onboarded != 2 {
		t.Fatalf("expected 2 onboarded, got %d", observer.onboarded)
	}
}

func TestOnboardProcessMissingBlobRegistersNothing(t *testing.T) {
	store := newStoreFake()
	blobs := &blobsFake{existing: map[string]bool{"temp/IMG_2.png": true}}
	uc := NewOnboardUseCase(&usersFake{}, store, blobs, &queueFake{}, nil, "perm")

	_, err := uc.Process(context.Background(), onboardRequest())
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(store.images) != 0 {
		t.Fatalf("expected nothing registered, got %d images", len(store.images))
	}
}

func TestOnboardProcessCopyFailureLeavesImagesNotReady(t *testing.T) {
	store := newStoreFake()
	uc := NewOnboardUseCase(&usersFake{}, store, &blobsFake{copyErr: errors.New("quota")}, &queueFake{}, nil, "perm")

	if _, err := uc.Process(context.Background(), onboardRequest()); err == nil {
		t.Fatalf("expected error")
	}
	for id := range store.images {
		if store.stateOf(id) != domain.StateNotReady {
			t.Fatalf("image %d must stay NOT_READY, got %s", id, store.stateOf(id))
		}
	}
}
