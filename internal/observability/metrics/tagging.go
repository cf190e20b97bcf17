package metrics

import (
	"github.com/kirillkom/tagging-coordinator/internal/core/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// taggingCounters implements ports.TaggingObserver. Both the API and the
// worker embed it so each process exports the pipeline events it performs.
type taggingCounters struct {
	service string

	checkedOutImages *prometheus.CounterVec
	checkinImages    *prometheus.CounterVec
	checkinLabels    *prometheus.CounterVec
	onboardedImages  *prometheus.CounterVec
	reclaimedImages  *prometheus.CounterVec
	checkoutBatch    *prometheus.HistogramVec
}

func newTaggingCounters(service string, registry *prometheus.Registry) *taggingCounters {
	c := &taggingCounters{
		service: service,
		checkedOutImages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tagger",
				Subsystem: "tagging",
				Name:      "checked_out_images_total",
				Help:      "Images moved to TAG_IN_PROGRESS by checkouts.",
			},
			[]string{"service"},
		),
		checkinImages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tagger",
				Subsystem: "tagging",
				Name:      "checkin_images_total",
				Help:      "Images returned by taggers, by outcome.",
			},
			[]string{"service", "outcome"},
		),
		checkinLabels: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tagger",
				Subsystem: "tagging",
				Name:      "checkin_labels_total",
				Help:      "Curated labels written by check-ins.",
			},
			[]string{"service"},
		),
		onboardedImages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tagger",
				Subsystem: "onboarding",
				Name:      "images_total",
				Help:      "Images promoted to READY_TO_TAG by onboarding.",
			},
			[]string{"service"},
		),
		reclaimedImages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tagger",
				Subsystem: "tagging",
				Name:      "reclaimed_images_total",
				Help:      "Expired checkouts moved back to INCOMPLETE_TAG.",
			},
			[]string{"service"},
		),
		checkoutBatch: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tagger",
				Subsystem: "tagging",
				Name:      "checkout_batch_size",
				Help:      "Images handed out per checkout.",
				Buckets:   []float64{0, 1, 5, 10, 20, 40, 60, 80, 100},
			},
			[]string{"service"},
		),
	}
	registry.MustRegister(
		c.checkedOutImages,
		c.checkinImages,
		c.checkinLabels,
		c.onboardedImages,
		c.reclaimedImages,
		c.checkoutBatch,
	)
	return c
}

func (c *taggingCounters) ObserveCheckout(images int) {
	c.checkoutBatch.WithLabelValues(c.service).Observe(float64(images))
	if images > 0 {
		c.checkedOutImages.WithLabelValues(c.service).Add(float64(images))
	}
}

func (c *taggingCounters) ObserveCheckin(summary domain.CheckinSummary) {
	c.addOutcome("tagged", len(summary.TaggedImages))
	c.addOutcome("visited_no_tag", len(summary.VisitedNoTag))
	c.addOutcome("not_visited", len(summary.NotVisited))
	if summary.LabelsWritten > 0 {
		c.checkinLabels.WithLabelValues(c.service).Add(float64(summary.LabelsWritten))
	}
}

func (c *taggingCounters) ObserveOnboarded(images int) {
	if images > 0 {
		c.onboardedImages.WithLabelValues(c.service).Add(float64(images))
	}
}

func (c *taggingCounters) ObserveReclaimed(images int) {
	if images > 0 {
		c.reclaimedImages.WithLabelValues(c.service).Add(float64(images))
	}
}

func (c *taggingCounters) addOutcome(outcome string, n int) {
	if n > 0 {
		c.checkinImages.WithLabelValues(c.service, outcome).Add(float64(n))
	}
}
