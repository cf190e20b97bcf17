package httpadapter

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/kirillkom/tagging-coordinator/internal/core/domain"
	"github.com/kirillkom/tagging-coordinator/internal/core/vott"
)

type sessionFake struct {
	gotUser  string
	gotCount int
	gotDoc   vott.Document
	gotIDs   []int64
	doc      vott.Document
	summary  domain.CheckinSummary
	err      error
}

func (f *sessionFake) Download(_ context.Context, userName string, count int) (vott.Document, error) {
	f.gotUser, f.gotCount = userName, count
	return f.doc, f.err
}

func (f *sessionFake) Upload(_ context.Context, userName string, doc vott.Document) (domain.CheckinSummary, error) {
	f.gotUser, f.gotDoc = userName, doc
	return f.summary, f.err
}

func (f *sessionFake) Abandon(_ context.Context, userName string, ids []int64) error {
	f.gotUser, f.gotIDs = userName, ids
	return f.err
}

type labelsFake struct {
	gotStates []domain.ImageTagState
	gotLimit  int
	gotNames  []string
	gotID     int64
	refs      []domain.ImageRef
	err       error
}

func (f *labelsFake) Images(_ context.Context, states []domain.ImageTagState, limit int) ([]domain.ImageRef, error) {
	f.gotStates, f.gotLimit = states, limit
	return f.refs, f.err
}

func (f *labelsFake) LabelDocument(_ context.Context, states []domain.ImageTagState, limit int) (vott.Document, error) {
	f.gotStates, f.gotLimit = states, limit
	return vott.Document{Frames: map[string][]vott.Region{}}, f.err
}

func (f *labelsFake) AllLabels(context.Context) ([]domain.ImageLabel, error) {
	return []domain.ImageLabel{{ImageID: 1, Location: "file:///p/1.jpg"}}, f.err
}

func (f *labelsFake) History(_ context.Context, imageID int64) ([]domain.StateChange, error) {
	f.gotID = imageID
	return []domain.StateChange{{ImageID: imageID, State: domain.StateNotReady}}, f.err
}

func (f *labelsFake) ClassificationMap(_ context.Context, names []string) (map[string]int64, error) {
	f.gotNames = names
	out := map[string]int64{}
	for i, n := range names {
		out[n] = int64(i + 1)
	}
	return out, f.err
}

type onboarderFake struct {
	got domain.OnboardRequest
	err error
}

func (f *onboarderFake) Request(_ context.Context, req domain.OnboardRequest) error {
	f.got = req
	if f.err != nil {
		return f.err
	}
	return req.Validate()
}

func (f *onboarderFake) Process(context.Context, domain.OnboardRequest) (map[string]int64, error) {
	return nil, nil
}

type trainingFake struct {
	gotRules *domain.ReadinessRules
	id       int64
	err      error
}

func (f *trainingFake) Readiness(_ context.Context, rules *domain.ReadinessRules) (domain.ReadinessReport, error) {
	f.gotRules = rules
	return domain.ReadinessReport{Ready: true}, f.err
}

func (f *trainingFake) RecordRun(context.Context, domain.TrainingSession, []domain.PredictionLabel) (int64, error) {
	return f.id, f.err
}

type blobsFake struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (f *blobsFake) Save(_ context.Context, container, name string, data io.Reader) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.files == nil {
		f.files = map[string][]byte{}
	}
	f.files[container+"/"+name] = body
	return nil
}

func (f *blobsFake) Open(_ context.Context, container, name string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.files[container+"/"+name]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "open blob", io.EOF)
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

type testDeps struct {
	session   *sessionFake
	labels    *labelsFake
	onboarder *onboarderFake
	training  *trainingFake
	blobs     *blobsFake
}

func newTestDeps() *testDeps {
	return &testDeps{
		session:   &sessionFake{doc: vott.Document{Frames: map[string][]vott.Region{"7.jpg": {}}, InputTags: "cat"}},
		labels:    &labelsFake{},
		onboarder: &onboarderFake{},
		training:  &trainingFake{id: 1},
		blobs:     &blobsFake{},
	}
}

func (d *testDeps) handler(t *testing.T, options Options) http.Handler {
	t.Helper()
	h, err := NewRouter(d.session, d.labels, d.onboarder, d.training, d.blobs, options).Handler()
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	return h
}
