package domain

import (
	"math"
	"strings"
	"time"
)

// NewImage is an image offered for onboarding; it has no id until registered.
type NewImage struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Height   int    `json:"height"`
	Width    int    `json:"width"`
}

// ImageInfo is the persisted metadata of an image.
type ImageInfo struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Location  string `json:"location"`
	Height    int    `json:"height"`
	Width     int    `json:"width"`
	CreatedBy int64  `json:"created_by"`
}

type ImageRef struct {
	ID       int64  `json:"id"`
	Location string `json:"location"`
}

// Box is a bounding box in pixel coordinates.
type Box struct {
	XMin float64 `json:"x_min"`
	XMax float64 `json:"x_max"`
	YMin float64 `json:"y_min"`
	YMax float64 `json:"y_max"`
}

func (b Box) Valid() bool {
	for _, v := range []float64{b.XMin, b.XMax, b.YMin, b.YMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// ImageTag is one bounding box on an image carrying one or more classification names.
type ImageTag struct {
	ImageID             int64    `json:"image_id"`
	Box                 Box      `json:"box"`
	ClassificationNames []string `json:"classification_names"`
	// Suggested tags come from a training session's predictions and are not human curated.
	Suggested bool `json:"suggested,omitempty"`
}

// ImageLabel pairs an image with its tags. An empty tag list means the image
// was visited and nothing was tagged.
type ImageLabel struct {
	ImageID  int64      `json:"image_id"`
	Location string     `json:"location"`
	Height   int        `json:"height"`
	Width    int        `json:"width"`
	Tags     []ImageTag `json:"tags"`
}

// AnnotatedLabel is a human-curated (image, classification, box) triple.
// ClassificationID is zero until the name has been resolved through the registry.
type AnnotatedLabel struct {
	ImageID            int64  `json:"image_id"`
	ClassificationID   int64  `json:"classification_id"`
	ClassificationName string `json:"classification_name"`
	Box                Box    `json:"box"`
}

// PredictionLabel is a machine-predicted label produced by a training session.
type PredictionLabel struct {
	AnnotatedLabel
	TrainingID      int64   `json:"training_id"`
	BoxConfidence   float64 `json:"box_confidence"`
	ImageConfidence float64 `json:"image_confidence"`
}

// Checkin is everything a returned annotation batch writes: curated labels
// for tagged images plus the two id sets that carry no labels.
type Checkin struct {
	Labels       []AnnotatedLabel
	VisitedNoTag []int64
	NotVisited   []int64
}

func (c Checkin) Empty() bool {
	return len(c.Labels) == 0 && len(c.VisitedNoTag) == 0 && len(c.NotVisited) == 0
}

type StateChange struct {
	ImageID    int64         `json:"image_id"`
	State      ImageTagState `json:"state"`
	ModifiedBy int64         `json:"modified_by"`
	UserName   string        `json:"user_name"`
	ModifiedAt time.Time     `json:"modified_at"`
}

// UniqueClassificationNames returns the distinct non-blank names used by labels, in first-seen order.
func UniqueClassificationNames(labels []AnnotatedLabel) []string {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		name := l.ClassificationName
		if strings.TrimSpace(name) == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// UniqueIDs de-duplicates ids preserving first-seen order.
func UniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
