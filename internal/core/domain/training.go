package domain

import "time"

type TrainingSession struct {
	ID                 int64              `json:"id"`
	Description        string             `json:"description"`
	ModelLocation      string             `json:"model_location"`
	AveragePerformance float64            `json:"average_performance"`
	ClassPerformance   map[string]float64 `json:"class_performance"`
	CreatedAt          time.Time          `json:"created_at"`
}

// ReadinessRules gate whether enough curated labels exist to start a training run.
type ReadinessRules struct {
	MinTaggedImagesPerClass map[string]int `json:"min_tagged_images_per_class" yaml:"min_tagged_images_per_class"`
	MinTaggedImages         int            `json:"min_tagged_images" yaml:"min_tagged_images"`
}

type ReadinessReport struct {
	Ready          bool           `json:"ready"`
	TaggedByClass  map[string]int `json:"tagged_by_class"`
	TotalTagged    int            `json:"total_tagged"`
	UnmetClasses   []string       `json:"unmet_classes,omitempty"`
	TotalRuleUnmet bool           `json:"total_rule_unmet,omitempty"`
}

// TagCounts counts completed images carrying curated labels, overall and per class.
type TagCounts struct {
	ByClass map[string]int `json:"by_class"`
	Images  int            `json:"images"`
}
