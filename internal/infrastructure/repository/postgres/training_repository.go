package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/kirillkom/tagging-coordinator/internal/core/domain"
)

type TrainingRepository struct {
	db *sql.DB
}

func NewTrainingRepository(db *sql.DB) *TrainingRepository {
	return &TrainingRepository{db: db}
}

func (r *TrainingRepository) CreateTrainingSession(ctx context.Context, session domain.TrainingSession) (int64, error) {
	const op = "create training session"
	if strings.TrimSpace(session.ModelLocation) == "" {
		return 0, domain.Invalid(op, "model location is required")
	}
	if math.IsNaN(session.AveragePerformance) || math.IsInf(session.AveragePerformance, 0) {
		return 0, domain.Invalid(op, "average performance must be finite")
	}
	perf := session.ClassPerformance
	if perf == nil {
		perf = map[string]float64{}
	}
	perfJSON, err := json.Marshal(perf)
	if err != nil {
		return 0, domain.Invalid(op, "class performance: %v", err)
	}

	var id int64
	err = r.db.QueryRowContext(ctx, `
INSERT INTO training_info (training_description, model_location, class_perf_avg, class_performance)
VALUES ($1,$2,$3,$4)
RETURNING training_id
`, session.Description, session.ModelLocation, session.AveragePerformance, perfJSON).Scan(&id)
	if err != nil {
		return 0, fail(ctx, op, err)
	}
	return id, nil
}

// AddPredictionLabels stores one session's predictions. Every classification id
// must already exist in the registry.
func (r *TrainingRepository) AddPredictionLabels(ctx context.Context, labels []domain.PredictionLabel, trainingID int64) error {
	const op = "add prediction labels"
	if trainingID <= 0 {
		return domain.Invalid(op, "training id must be positive, got %d", trainingID)
	}
	if len(labels) == 0 {
		return nil
	}
	classIDs := make([]int64, 0, len(labels))
	for _, l := range labels {
		if l.ImageID <= 0 || l.ClassificationID <= 0 {
			return domain.Invalid(op, "prediction needs positive image and classification ids")
		}
		if !l.Box.Valid() {
			return domain.Invalid(op, "prediction on image %d has a non-finite box", l.ImageID)
		}
		if !unitInterval(l.BoxConfidence) || !unitInterval(l.ImageConfidence) {
			return domain.Invalid(op, "prediction on image %d has confidence outside [0,1]", l.ImageID)
		}
		classIDs = append(classIDs, l.ClassificationID)
	}
	classIDs = domain.UniqueIDs(classIDs)

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := requireClassifications(ctx, tx, classIDs); err != nil {
			return err
		}

		const width = 9
		for start := 0; start < len(labels); start += maxRowsPerInsert {
			end := min(start+maxRowsPerInsert, len(labels))
			chunk := labels[start:end]
			args := make([]any, 0, len(chunk)*width)
			for _, l := range chunk {
				args = append(args, trainingID, l.ImageID, l.ClassificationID,
					l.Box.XMin, l.Box.XMax, l.Box.YMin, l.Box.YMax, l.BoxConfidence, l.ImageConfidence)
			}
			if _, err := tx.ExecContext(ctx, `
INSERT INTO prediction_labels (training_id, image_id, classification_id, x_min, x_max, y_min, y_max, box_confidence, image_confidence)
VALUES `+valuesRows(1, len(chunk), width), args...); err != nil {
				return fmt.Errorf("insert prediction labels: %w", err)
			}
		}
		return nil
	})
	return fail(ctx, op, err)
}

func requireClassifications(ctx context.Context, tx *sql.Tx, ids []int64) error {
	rows, err := tx.QueryContext(ctx, `
SELECT classification_id
FROM classification_info
WHERE classification_id IN (`+placeholders(1, len(ids))+`)
`, idArgs(ids)...)
	if err != nil {
		return fmt.Errorf("check classification ids: %w", err)
	}
	defer rows.Close()

	found := make(map[int64]struct{}, len(ids))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan classification id: %w", err)
		}
		found[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate classification ids: %w", err)
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return domain.Invalid("add prediction labels", "classification id %d is not registered", id)
		}
	}
	return nil
}

func unitInterval(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
