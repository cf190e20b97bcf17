package usecase

import (
	"context"
	"fmt"
	"sort"

	"github.com/kirillkom/tagging-coordinator/internal/core/domain"
	"github.com/kirillkom/tagging-coordinator/internal/core/ports"
)

type TrainingUseCase struct {
	store    ports.TaggingStore
	training ports.TrainingStore
	defaults domain.ReadinessRules
}

func NewTrainingUseCase(store ports.TaggingStore, training ports.TrainingStore, defaults domain.ReadinessRules) *TrainingUseCase {
	return &TrainingUseCase{store: store, training: training, defaults: defaults}
}

// Readiness checks curated label counts against rules. A nil rules pointer
// uses the configured defaults.
func (uc *TrainingUseCase) Readiness(ctx context.Context, rules *domain.ReadinessRules) (domain.ReadinessReport, error) {
	r := uc.defaults
	if rules != nil {
		r = *rules
	}
	if r.MinTaggedImages < 0 {
		return domain.ReadinessReport{}, domain.Invalid("training readiness", "min tagged images must not be negative")
	}
	for class, minimum := range r.MinTaggedImagesPerClass {
		if minimum < 0 {
			return domain.ReadinessReport{}, domain.Invalid("training readiness", "minimum for %q must not be negative", class)
		}
	}

	counts, err := uc.store.CountTaggedImages(ctx)
	if err != nil {
		return domain.ReadinessReport{}, fmt.Errorf("count tagged images: %w", err)
	}

	report := domain.ReadinessReport{
		TaggedByClass: counts.ByClass,
		TotalTagged:   counts.Images,
	}
	if report.TaggedByClass == nil {
		report.TaggedByClass = map[string]int{}
	}
	for class, minimum := range r.MinTaggedImagesPerClass {
		if report.TaggedByClass[class] < minimum {
			report.UnmetClasses = append(report.UnmetClasses, class)
		}
	}
	sort.Strings(report.UnmetClasses)
	report.TotalRuleUnmet = counts.Images < r.MinTaggedImages
	report.Ready = len(report.UnmetClasses) == 0 && !report.TotalRuleUnmet
	return report, nil
}

// RecordRun stores a finished training session and its predictions.
// Predictions must reference registered classification ids.
func (uc *TrainingUseCase) RecordRun(ctx context.Context, session domain.TrainingSession, predictions []domain.PredictionLabel) (int64, error) {
	id, err := uc.training.CreateTrainingSession(ctx, session)
	if err != nil {
		return 0, fmt.Errorf("create training session: %w", err)
	}
	if err := uc.training.AddPredictionLabels(ctx, predictions, id); err != nil {
		return id, fmt.Errorf("add prediction labels to session %d: %w", id, err)
	}
	return id, nil
}
