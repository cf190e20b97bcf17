package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/tagging-coordinator/internal/core/domain"
)

func TestTaggingCountersObserveCheckin(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	m.ObserveCheckout(3)
	m.ObserveCheckin(domain.CheckinSummary{
		TaggedImages:  []int64{1, 2},
		VisitedNoTag:  []int64{3},
		LabelsWritten: 5,
	})

	assertExported(t, m.Handler(),
		`tagger_tagging_checked_out_images_total{service="api"} 3`,
		`tagger_tagging_checkin_images_total{outcome="tagged",service="api"} 2`,
		`tagger_tagging_checkin_images_total{outcome="visited_no_tag",service="api"} 1`,
		`tagger_tagging_checkin_labels_total{service="api"} 5`,
	)
}

func TestWorkerMetricsHandlerExports(t *testing.T) {
	m := NewWorkerMetrics("worker")
	m.StartOnboard()
	m.FinishOnboard(20*time.Millisecond, nil)
	m.StartOnboard()
	m.FinishOnboard(time.Millisecond, errors.New("copy failed"))
	m.ObserveReclaimed(4)
	m.ObserveSweep(nil)

	assertExported(t, m.Handler(),
		`tagger_worker_onboard_process_total{service="worker",status="error"} 1`,
		`tagger_worker_onboard_process_total{service="worker",status="success"} 1`,
		`tagger_tagging_reclaimed_images_total{service="worker"} 4`,
		`tagger_worker_reclaim_sweeps_total{service="worker",status="success"} 1`,
	)
}

func TestMiddlewareNormalizesHistoryPath(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	h := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/images/42/history", nil))

	assertExported(t, m.Handler(),
		`tagger_http_requests_total{method="GET",path="/v1/images/{image_id}/history",service="api",status="404"} 1`,
	)
}

func assertExported(t *testing.T, h http.Handler, want ...string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, line := range want {
		if !strings.Contains(body, line) {
			t.Fatalf("metrics output missing %q", line)
		}
	}
}
