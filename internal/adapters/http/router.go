package httpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/kirillkom/tagging-coordinator/internal/core/domain"
	"github.com/kirillkom/tagging-coordinator/internal/core/ports"
	"github.com/kirillkom/tagging-coordinator/internal/core/vott"
	"github.com/oapi-codegen/runtime"
)

const (
	maxJSONBodyBytes = 32 << 20
	maxBlobBytes     = 64 << 20
)

// BlobFiles is the raw blob access the API exposes for uploading images ahead
// of onboarding and for serving them to annotation tools.
type BlobFiles interface {
	Save(ctx context.Context, container, name string, data io.Reader) error
	Open(ctx context.Context, container, name string) (io.ReadCloser, error)
}

type Options struct {
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	QueueWait      time.Duration
	Metrics        http.Handler
}

type Router struct {
	session   ports.TaggingSession
	labels    ports.LabelReader
	onboarder ports.Onboarder
	training  ports.TrainingCoordinator
	blobs     BlobFiles
	options   Options
}

func NewRouter(
	session ports.TaggingSession,
	labels ports.LabelReader,
	onboarder ports.Onboarder,
	training ports.TrainingCoordinator,
	blobs BlobFiles,
	options Options,
) *Router {
	return &Router{
		session:   session,
		labels:    labels,
		onboarder: onboarder,
		training:  training,
		blobs:     blobs,
		options:   options,
	}
}

func (rt *Router) Handler() (http.Handler, error) {
	doc, err := loadOpenAPI(context.Background())
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.options.Metrics != nil {
		mux.Handle("GET /metrics", rt.options.Metrics)
	}
	mux.HandleFunc("GET /v1/download", rt.download)
	mux.HandleFunc("POST /v1/upload", rt.upload)
	mux.HandleFunc("GET /v1/labels", rt.labelDocument)
	mux.HandleFunc("GET /v1/labels/all", rt.allLabels)
	mux.HandleFunc("GET /v1/images", rt.images)
	mux.HandleFunc("GET /v1/images/{image_id}/history", rt.history)
	mux.HandleFunc("POST /v1/images/abandon", rt.abandon)
	mux.HandleFunc("GET /v1/classifications", rt.classifications)
	mux.HandleFunc("POST /v1/onboarding", rt.onboard)
	mux.HandleFunc("POST /v1/training/readiness", rt.readiness)
	mux.HandleFunc("POST /v1/training/sessions", rt.recordTraining)
	mux.HandleFunc("PUT /v1/blobs/{container}/{name...}", rt.putBlob)
	mux.HandleFunc("GET /v1/blobs/{container}/{name...}", rt.getBlob)

	validated, err := requestValidationMiddleware(mux, doc)
	if err != nil {
		return nil, err
	}
	handler := backpressureMiddleware(validated, rt.options.MaxInFlight, rt.options.QueueWait)
	handler = rateLimitMiddleware(handler, rt.options.RateLimitRPS, rt.options.RateLimitBurst)
	return requestIDMiddleware(accessLogMiddleware(handler)), nil
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) download(w http.ResponseWriter, r *http.Request) {
	userName, ok := requireUser(w, r)
	if !ok {
		return
	}
	var count int
	if !bindQuery(w, r, "imageCount", true, false, &count) {
		return
	}
	doc, err := rt.session.Download(r.Context(), userName, count)
	if err != nil {
		writeDomainError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) upload(w http.ResponseWriter, r *http.Request) {
	userName, ok := requireUser(w, r)
	if !ok {
		return
	}
	var doc vott.Document
	if !decodeJSONBody(w, r, &doc, true) {
		return
	}
	summary, err := rt.session.Upload(r.Context(), userName, doc)
	if err != nil {
		writeDomainError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (rt *Router) labelDocument(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	states, count, ok := stateQuery(w, r)
	if !ok {
		return
	}
	doc, err := rt.labels.LabelDocument(r.Context(), states, count)
	if err != nil {
		writeDomainError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) allLabels(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	labels, err := rt.labels.AllLabels(r.Context())
	if err != nil {
		writeDomainError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, labels)
}

func (rt *Router) images(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	states, count, ok := stateQuery(w, r)
	if !ok {
		return
	}
	refs, err := rt.labels.Images(r.Context(), states, count)
	if err != nil {
		writeDomainError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, refs)
}

func (rt *Router) history(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	var imageID int64
	err := runtime.BindStyledParameterWithOptions("simple", "image_id", r.PathValue("image_id"), &imageID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	changes, err := rt.labels.History(r.Context(), imageID)
	if err != nil {
		writeDomainError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, changes)
}

func (rt *Router) classifications(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	var names []string
	if !bindQuery(w, r, "className", false, false, &names) {
		return
	}
	if len(names) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "className is required"})
		return
	}
	mapping, err := rt.labels.ClassificationMap(r.Context(), names)
	if err != nil {
		writeDomainError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, mapping)
}

func (rt *Router) onboard(w http.ResponseWriter, r *http.Request) {
	userName, ok := requireUser(w, r)
	if !ok {
		return
	}
	var body struct {
		Images []domain.OnboardImage `json:"images"`
	}
	if !decodeJSONBody(w, r, &body, true) {
		return
	}
	req := domain.OnboardRequest{UserName: userName, Images: body.Images}
	if err := rt.onboarder.Request(r.Context(), req); err != nil {
		writeDomainError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "images": len(req.Images)})
}

func (rt *Router) abandon(w http.ResponseWriter, r *http.Request) {
	userName, ok := requireUser(w, r)
	if !ok {
		return
	}
	var body struct {
		ImageIDs []int64 `json:"image_ids"`
	}
	if !decodeJSONBody(w, r, &body, true) {
		return
	}
	if err := rt.session.Abandon(r.Context(), userName, body.ImageIDs); err != nil {
		writeDomainError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"abandoned": len(body.ImageIDs)})
}

func (rt *Router) readiness(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	var rules *domain.ReadinessRules
	if r.ContentLength != 0 {
		var body domain.ReadinessRules
		if !decodeJSONBody(w, r, &body, false) {
			return
		}
		rules = &body
	}
	report, err := rt.training.Readiness(r.Context(), rules)
	if err != nil {
		writeDomainError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (rt *Router) recordTraining(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	var body struct {
		Session     domain.TrainingSession   `json:"session"`
		Predictions []domain.PredictionLabel `json:"predictions"`
	}
	if !decodeJSONBody(w, r, &body, true) {
		return
	}
	id, err := rt.training.RecordRun(r.Context(), body.Session, body.Predictions)
	if err != nil {
		var extra map[string]any
		if id > 0 {
			extra = map[string]any{"training_id": id}
		}
		writeDomainError(w, r, err, extra)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"training_id": id})
}

func (rt *Router) putBlob(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	container, name := r.PathValue("container"), r.PathValue("name")
	if !domain.IsSupportedImageFile(name) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unsupported image file type %q", name)})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBlobBytes)
	if err := rt.blobs.Save(r.Context(), container, name, r.Body); err != nil {
		writeDomainError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"container": container, "blob_name": name})
}

func (rt *Router) getBlob(w http.ResponseWriter, r *http.Request) {
	container, name := r.PathValue("container"), r.PathValue("name")
	rc, err := rt.blobs.Open(r.Context(), container, name)
	if err != nil {
		writeDomainError(w, r, err, nil)
		return
	}
	defer rc.Close()

	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(name))); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

// requireUser answers 401 when userName is absent.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	var userName string
	if !bindQuery(w, r, "userName", true, false, &userName) {
		return "", false
	}
	userName = strings.TrimSpace(userName)
	if userName == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid userName given or omitted"})
		return "", false
	}
	return userName, true
}

func stateQuery(w http.ResponseWriter, r *http.Request) ([]domain.ImageTagState, int, bool) {
	var raw []int
	if !bindQuery(w, r, "tagStatus", false, true, &raw) {
		return nil, 0, false
	}
	states := make([]domain.ImageTagState, 0, len(raw))
	for _, v := range raw {
		s, err := domain.ParseImageTagState(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return nil, 0, false
		}
		states = append(states, s)
	}
	var count int
	if !bindQuery(w, r, "imageCount", true, false, &count) {
		return nil, 0, false
	}
	return states, count, true
}

func bindQuery(w http.ResponseWriter, r *http.Request, name string, explode, required bool, dest any) bool {
	if err := runtime.BindQueryParameter("form", explode, required, name, r.URL.Query(), dest); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dest any, required bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	if err := dec.Decode(dest); err != nil {
		if err == io.EOF && !required {
			return true
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
