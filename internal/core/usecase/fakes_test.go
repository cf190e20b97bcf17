package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/tagging-coordinator/internal/core/domain"
)

type usersFake struct {
	ids map[string]int64
	err error
}

func (f *usersFake) ResolveUser(_ context.Context, name string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	if strings.TrimSpace(name) == "" {
		return 0, domain.Invalid("resolve user", "user name is required")
	}
	if f.ids == nil {
		f.ids = map[string]int64{}
	}
	if id, ok := f.ids[name]; ok {
		return id, nil
	}
	id := int64(len(f.ids) + 1)
	f.ids[name] = id
	return id, nil
}

type registryFake struct {
	ids     map[string]int64
	listErr error
}

func (f *registryFake) Upsert(_ context.Context, names []string) (map[string]int64, error) {
	normalized, err := domain.NormalizeClassificationNames(names)
	if err != nil {
		return nil, err
	}
	if f.ids == nil {
		f.ids = map[string]int64{}
	}
	out := make(map[string]int64, len(normalized))
	for _, n := range normalized {
		id, ok := f.ids[n]
		if !ok {
			id = int64(len(f.ids) + 1)
			f.ids[n] = id
		}
		out[n] = id
	}
	return out, nil
}

func (f *registryFake) List(context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]string, 0, len(f.ids))
	for n := range f.ids {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

type fakeImage struct {
	info    domain.ImageInfo
	state   domain.ImageTagState
	holder  int64
	created int
	labels  []domain.AnnotatedLabel
}

// storeFake is an in-memory tag-state machine enforcing the domain transition table.
type storeFake struct {
	mu       sync.Mutex
	images   map[int64]*fakeImage
	nextID   int64
	seq      int
	history  map[int64][]domain.StateChange
	checkins []domain.Checkin

	checkoutErr error
	checkinErr  error
	registerErr error
	updateErr   error
	reclaimed   []int64
	counts      domain.TagCounts
}

func newStoreFake() *storeFake {
	return &storeFake{images: map[int64]*fakeImage{}, history: map[int64][]domain.StateChange{}}
}

func (f *storeFake) RegisterImages(_ context.Context, images []domain.NewImage, creator int64) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	out := map[string]int64{}
	for _, img := range images {
		f.nextID++
		f.seq++
		f.images[f.nextID] = &fakeImage{
			info:    domain.ImageInfo{ID: f.nextID, Name: img.Name, Location: img.Location, Height: img.Height, Width: img.Width, CreatedBy: creator},
			state:   domain.StateNotReady,
			created: f.seq,
		}
		f.audit(f.nextID, domain.StateNotReady, creator)
		out[img.Location] = f.nextID
	}
	return out, nil
}

func (f *storeFake) audit(id int64, s domain.ImageTagState, actor int64) {
	f.history[id] = append(f.history[id], domain.StateChange{ImageID: id, State: s, ModifiedBy: actor, ModifiedAt: time.Now()})
}

func (f *storeFake) move(ids []int64, to domain.ImageTagState, actor int64) error {
	for _, id := range ids {
		img, ok := f.images[id]
		if !ok || !domain.CanTransition(img.state, to) {
			return domain.WrapError(domain.ErrConflict, "transition", fmt.Errorf("image %d", id))
		}
		if domain.OwnerBound(to) && img.state == domain.StateTagInProgress && img.holder != actor {
			return domain.WrapError(domain.ErrConflict, "transition", fmt.Errorf("image %d is held by %d", id, img.holder))
		}
	}
	for _, id := range ids {
		f.images[id].state = to
		f.images[id].holder = actor
		f.audit(id, to, actor)
	}
	return nil
}

func (f *storeFake) UpdateLocations(_ context.Context, locations map[int64]string, actor int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	ids := make([]int64, 0, len(locations))
	for id := range locations {
		if _, ok := f.images[id]; !ok {
			return domain.WrapError(domain.ErrNotFound, "update locations", fmt.Errorf("image %d", id))
		}
		ids = append(ids, id)
	}
	if err := f.move(ids, domain.StateReadyToTag, actor); err != nil {
		return err
	}
	for id, loc := range locations {
		f.images[id].info.Location = loc
	}
	return nil
}

func (f *storeFake) Checkout(_ context.Context, count int, actor int64) ([]domain.ImageLabel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checkoutErr != nil {
		return nil, f.checkoutErr
	}
	if count <= 0 {
		return nil, domain.Invalid("checkout", "count must be positive")
	}
	eligible := make([]*fakeImage, 0)
	for _, img := range f.images {
		for _, s := range domain.CheckoutEligible() {
			if img.state == s {
				eligible = append(eligible, img)
			}
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].created < eligible[j].created })
	if len(eligible) > count {
		eligible = eligible[:count]
	}
	out := make([]domain.ImageLabel, 0, len(eligible))
	for _, img := range eligible {
		img.state = domain.StateTagInProgress
		img.holder = actor
		f.audit(img.info.ID, domain.StateTagInProgress, actor)
		out = append(out, domain.ImageLabel{ImageID: img.info.ID, Location: img.info.Location, Height: img.info.Height, Width: img.info.Width, Tags: []domain.ImageTag{}})
	}
	return out, nil
}

func (f *storeFake) RecordCompletedWithTags(ctx context.Context, labels []domain.AnnotatedLabel, actor int64) error {
	return f.RecordCheckin(ctx, domain.Checkin{Labels: labels}, actor)
}

func (f *storeFake) RecordCompletedWithoutTags(ctx context.Context, ids []int64, actor int64) error {
	return f.RecordCheckin(ctx, domain.Checkin{VisitedNoTag: ids}, actor)
}

func (f *storeFake) RecordIncomplete(ctx context.Context, ids []int64, actor int64) error {
	return f.RecordCheckin(ctx, domain.Checkin{NotVisited: ids}, actor)
}

func (f *storeFake) RecordCheckin(_ context.Context, c domain.Checkin, actor int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checkinErr != nil {
		return f.checkinErr
	}
	f.checkins = append(f.checkins, c)
	tagged := make([]int64, 0)
	for _, l := range c.Labels {
		tagged = append(tagged, l.ImageID)
	}
	if err := f.move(domain.UniqueIDs(append(tagged, c.VisitedNoTag...)), domain.StateCompletedTag, actor); err != nil {
		return err
	}
	if err := f.move(domain.UniqueIDs(c.NotVisited), domain.StateIncompleteTag, actor); err != nil {
		return err
	}
	for _, l := range c.Labels {
		f.images[l.ImageID].labels = append(f.images[l.ImageID].labels, l)
	}
	return nil
}

func (f *storeFake) Abandon(_ context.Context, ids []int64, actor int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.move(ids, domain.StateAbandoned, actor)
}

func (f *storeFake) ReclaimExpired(_ context.Context, _ time.Duration, actor int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.reclaimed {
		img, ok := f.images[id]
		if !ok || img.state != domain.StateTagInProgress {
			return nil, domain.WrapError(domain.ErrConflict, "reclaim", fmt.Errorf("image %d", id))
		}
		img.state, img.holder = domain.StateIncompleteTag, actor
		f.audit(id, domain.StateIncompleteTag, actor)
	}
	return f.reclaimed, nil
}

func (f *storeFake) QueryByState(_ context.Context, states []domain.ImageTagState, limit int) ([]domain.ImageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	matched := make([]*fakeImage, 0)
	for _, img := range f.images {
		for _, s := range states {
			if img.state == s {
				matched = append(matched, img)
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].created > matched[j].created })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]domain.ImageRef, 0, len(matched))
	for _, img := range matched {
		out = append(out, domain.ImageRef{ID: img.info.ID, Location: img.info.Location})
	}
	return out, nil
}

func (f *storeFake) QueryByIDs(_ context.Context, ids []int64) ([]domain.ImageInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ImageInfo, 0, len(ids))
	for _, id := range ids {
		if img, ok := f.images[id]; ok {
			out = append(out, img.info)
		}
	}
	return out, nil
}

func (f *storeFake) labelsFor(img *fakeImage) domain.ImageLabel {
	label := domain.ImageLabel{ImageID: img.info.ID, Location: img.info.Location, Height: img.info.Height, Width: img.info.Width, Tags: []domain.ImageTag{}}
	for _, l := range img.labels {
		label.Tags = append(label.Tags, domain.ImageTag{ImageID: l.ImageID, Box: l.Box, ClassificationNames: []string{l.ClassificationName}})
	}
	return label
}

func (f *storeFake) GetLabels(context.Context) ([]domain.ImageLabel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ImageLabel, 0)
	for _, img := range f.images {
		if len(img.labels) > 0 {
			out = append(out, f.labelsFor(img))
		}
	}
	return out, nil
}

func (f *storeFake) GetLabelsForImages(_ context.Context, ids []int64) ([]domain.ImageLabel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ImageLabel, 0, len(ids))
	for _, id := range ids {
		if img, ok := f.images[id]; ok {
			out = append(out, f.labelsFor(img))
		}
	}
	return out, nil
}

func (f *storeFake) History(_ context.Context, id int64) ([]domain.StateChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.StateChange{}, f.history[id]...), nil
}

func (f *storeFake) CountTaggedImages(context.Context) (domain.TagCounts, error) {
	return f.counts, nil
}

func (f *storeFake) stateOf(id int64) domain.ImageTagState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images[id].state
}

type blobsFake struct {
	existing map[string]bool
	copies   []string
	copyErr  error
}

func (f *blobsFake) Resolve(_ context.Context, container, name string) (string, error) {
	key := container + "/" + name
	if f.existing != nil && !f.existing[key] {
		return "", domain.WrapError(domain.ErrNotFound, "resolve blob", errors.New(key))
	}
	return "https://blobs/" + key, nil
}

func (f *blobsFake) Copy(_ context.Context, srcContainer, srcName, dstContainer, dstName string) (string, error) {
	if f.copyErr != nil {
		return "", f.copyErr
	}
	f.copies = append(f.copies, srcContainer+"/"+srcName+"->"+dstContainer+"/"+dstName)
	return "https://blobs/" + dstContainer + "/" + dstName, nil
}

type queueFake struct {
	published []domain.OnboardRequest
	err       error
}

func (f *queueFake) PublishOnboardRequest(_ context.Context, req domain.OnboardRequest) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, req)
	return nil
}

func (f *queueFake) SubscribeOnboardRequests(context.Context, func(context.Context, domain.OnboardRequest) error) error {
	return nil
}

type observerFake struct {
	checkouts, onboarded, reclaimed int
	checkins                        []domain.CheckinSummary
}

func (o *observerFake) ObserveCheckout(n int) { o.checkouts += n }
func (o *observerFake) ObserveCheckin(s domain.CheckinSummary) { o.checkins = append(o.checkins, s) }
func (o *observerFake) ObserveOnboarded(n int) { o.onboarded += n }
func (o *observerFake) ObserveReclaimed(n int) { o.reclaimed += n }

type trainingFake struct {
	sessions    []domain.TrainingSession
	predictions map[int64][]domain.PredictionLabel
	addErr      error
}

func (f *trainingFake) CreateTrainingSession(_ context.Context, s domain.TrainingSession) (int64, error) {
	f.sessions = append(f.sessions, s)
	return int64(len(f.sessions)), nil
}

func (f *trainingFake) AddPredictionLabels(_ context.Context, labels []domain.PredictionLabel, trainingID int64) error {
	if f.addErr != nil {
		return f.addErr
	}
	if f.predictions == nil {
		f.predictions = map[int64][]domain.PredictionLabel{}
	}
	f.predictions[trainingID] = append(f.predictions[trainingID], labels...)
	return nil
}
