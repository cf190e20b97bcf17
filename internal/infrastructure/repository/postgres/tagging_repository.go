package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/tagging-coordinator/internal/core/domain"
)

// TaggingRepository is the image tag-state machine. Every write is one
// transaction and every transition is guarded in SQL by the allowed source
// states. Check-in transitions out of TAG_IN_PROGRESS also require the
// caller to be the user who checked the image out, so a stale caller cannot
// move an image it no longer owns and a replayed check-in is a conflict.
type TaggingRepository struct {
	db       *sql.DB
	registry *ClassificationRegistry
}

func NewTaggingRepository(db *sql.DB, registry *ClassificationRegistry) *TaggingRepository {
	return &TaggingRepository{db: db, registry: registry}
}

func (r *TaggingRepository) RegisterImages(ctx context.Context, images []domain.NewImage, creator int64) (map[string]int64, error) {
	const op = "register images"
	out := make(map[string]int64, len(images))
	if len(images) == 0 {
		return out, nil
	}
	if err := validateActor(op, creator); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(images))
	for _, img := range images {
		if strings.TrimSpace(img.Location) == "" || strings.TrimSpace(img.Name) == "" {
			return nil, domain.Invalid(op, "image name and location are required")
		}
		if img.Height <= 0 || img.Width <= 0 {
			return nil, domain.Invalid(op, "image %q must have positive dimensions", img.Location)
		}
		if _, dup := seen[img.Location]; dup {
			return nil, domain.Invalid(op, "duplicate location %q", img.Location)
		}
		seen[img.Location] = struct{}{}
	}

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, img := range images {
			var id int64
			err := tx.QueryRowContext(ctx, `
WITH img AS (
	INSERT INTO image_info (original_image_name, image_location, height, width, created_by_user)
	VALUES ($1,$2,$3,$4,$5)
	RETURNING image_id, created_by_user
), st AS (
	INSERT INTO image_tagging_state (image_id, tag_state_id, modified_by_user)
	SELECT image_id, $6, created_by_user FROM img
), audit AS (
	INSERT INTO image_tagging_state_audit (image_id, tag_state_id, modified_by_user)
	SELECT image_id, $6, created_by_user FROM img
)
SELECT image_id FROM img
`, img.Name, img.Location, int64(img.Height), int64(img.Width), creator, int64(domain.StateNotReady)).Scan(&id)
			if err != nil {
				return fmt.Errorf("insert image %q: %w", img.Location, err)
			}
			out[img.Location] = id
		}
		return nil
	})
	if err != nil {
		return nil, fail(ctx, op, err)
	}
	return out, nil
}

// UpdateLocations moves every image to its permanent location and into
// READY_TO_TAG. The whole map is applied or none of it.
func (r *TaggingRepository) UpdateLocations(ctx context.Context, locations map[int64]string, actor int64) error {
	const op = "update locations"
	if len(locations) == 0 {
		return nil
	}
	if err := validateActor(op, actor); err != nil {
		return err
	}
	ids := make([]int64, 0, len(locations))
	for id, loc := range locations {
		if id <= 0 {
			return domain.Invalid(op, "image id must be positive, got %d", id)
		}
		if strings.TrimSpace(loc) == "" {
			return domain.Invalid(op, "location for image %d is empty", id)
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, id := range ids {
			res, err := tx.ExecContext(ctx, `
UPDATE image_info
SET image_location = $2, modified_at = now()
WHERE image_id = $1
`, id, locations[id])
			if err != nil {
				return fmt.Errorf("update location of image %d: %w", id, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("update location rows affected: %w", err)
			}
			if affected == 0 {
				return domain.WrapError(domain.ErrNotFound, op, fmt.Errorf("image %d", id))
			}
		}
		return transition(ctx, tx, ids, domain.StateReadyToTag, actor)
	})
	return fail(ctx, op, err)
}

// Checkout claims up to count eligible images, oldest first, and moves them to
// TAG_IN_PROGRESS in a single statement. SKIP LOCKED lets concurrent callers
// claim disjoint batches without waiting on each other.
func (r *TaggingRepository) Checkout(ctx context.Context, count int, actor int64) ([]domain.ImageLabel, error) {
	const op = "checkout"
	if count <= 0 {
		return nil, domain.Invalid(op, "count must be positive, got %d", count)
	}
	if err := validateActor(op, actor); err != nil {
		return nil, err
	}

	eligible := domain.CheckoutEligible()
	args := []any{int64(count), actor, int64(domain.StateTagInProgress)}
	args = append(args, stateArgs(eligible)...)
	query := `
WITH picked AS (
	SELECT s.image_id
	FROM image_tagging_state s
	JOIN image_info i ON i.image_id = s.image_id
	WHERE s.tag_state_id IN (` + placeholders(4, len(eligible)) + `)
	ORDER BY i.created_at ASC, i.image_id ASC
	LIMIT $1
	FOR UPDATE OF s SKIP LOCKED
), claimed AS (
	UPDATE image_tagging_state s
	SET tag_state_id = $3, modified_by_user = $2, modified_at = now()
	FROM picked
	WHERE s.image_id = picked.image_id
	RETURNING s.image_id, s.tag_state_id, s.modified_by_user, s.modified_at
), audit AS (
	INSERT INTO image_tagging_state_audit (image_id, tag_state_id, modified_by_user, modified_at)
	SELECT image_id, tag_state_id, modified_by_user, modified_at FROM claimed
)
SELECT i.image_id, i.image_location, i.height, i.width
FROM claimed c
JOIN image_info i ON i.image_id = c.image_id
ORDER BY i.created_at ASC, i.image_id ASC
`

	var batch []domain.ImageLabel
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("claim images: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				img           domain.ImageLabel
				height, width int64
			)
			if err := rows.Scan(&img.ImageID, &img.Location, &height, &width); err != nil {
				return fmt.Errorf("scan claimed image: %w", err)
			}
			img.Height, img.Width = int(height), int(width)
			img.Tags = []domain.ImageTag{}
			batch = append(batch, img)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate claimed images: %w", err)
		}
		rows.Close()

		if len(batch) == 0 {
			return nil
		}
		return attachSuggestions(ctx, tx, batch)
	})
	if err != nil {
		return nil, fail(ctx, op, err)
	}
	if batch == nil {
		batch = []domain.ImageLabel{}
	}
	return batch, nil
}

// attachSuggestions adds the latest training session's predicted boxes to the
// batch. They are marked Suggested and never stored as curated labels.
func attachSuggestions(ctx context.Context, tx *sql.Tx, batch []domain.ImageLabel) error {
	ids := make([]int64, len(batch))
	index := make(map[int64]int, len(batch))
	for i, img := range batch {
		ids[i] = img.ImageID
		index[img.ImageID] = i
	}

	rows, err := tx.QueryContext(ctx, `
SELECT p.image_id, p.x_min, p.x_max, p.y_min, p.y_max, c.classification_name
FROM prediction_labels p
JOIN classification_info c ON c.classification_id = p.classification_id
WHERE p.training_id = (SELECT MAX(training_id) FROM training_info)
	AND p.image_id IN (`+placeholders(1, len(ids))+`)
ORDER BY p.image_id, p.prediction_label_id
`, idArgs(ids)...)
	if err != nil {
		return fmt.Errorf("load suggestions: %w", err)
	}
	defer rows.Close()

	g := newTagGrouper()
	for rows.Next() {
		var (
			imageID int64
			box     domain.Box
			name    string
		)
		if err := rows.Scan(&imageID, &box.XMin, &box.XMax, &box.YMin, &box.YMax, &name); err != nil {
			return fmt.Errorf("scan suggestion: %w", err)
		}
		g.add(imageID, boxKey(box), box, name)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate suggestions: %w", err)
	}

	for imageID, tags := range g.tags() {
		i := index[imageID]
		for _, t := range tags {
			t.Suggested = true
			batch[i].Tags = append(batch[i].Tags, t)
		}
	}
	return nil
}

// RecordCompletedWithTags stores curated labels and moves every referenced
// image to COMPLETED_TAG. Names are resolved through the registry in the same
// transaction.
func (r *TaggingRepository) RecordCompletedWithTags(ctx context.Context, labels []domain.AnnotatedLabel, actor int64) error {
	return r.RecordCheckin(ctx, domain.Checkin{Labels: labels}, actor)
}

// RecordCheckin applies a whole returned batch in one transaction: labelled
// images and visited-but-empty images become COMPLETED_TAG, the rest
// INCOMPLETE_TAG.
func (r *TaggingRepository) RecordCheckin(ctx context.Context, checkin domain.Checkin, actor int64) error {
	const op = "record checkin"
	if checkin.Empty() {
		return nil
	}
	if err := validateActor(op, actor); err != nil {
		return err
	}
	if err := validateLabels(op, checkin.Labels); err != nil {
		return err
	}
	if err := validateIDs(op, checkin.VisitedNoTag); err != nil {
		return err
	}
	if err := validateIDs(op, checkin.NotVisited); err != nil {
		return err
	}

	tagged := make([]int64, 0, len(checkin.Labels))
	for _, l := range checkin.Labels {
		tagged = append(tagged, l.ImageID)
	}
	tagged = domain.UniqueIDs(tagged)
	completed := domain.UniqueIDs(append(append([]int64{}, tagged...), checkin.VisitedNoTag...))
	incomplete := domain.UniqueIDs(checkin.NotVisited)

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if len(completed) > 0 {
			if err := transition(ctx, tx, completed, domain.StateCompletedTag, actor); err != nil {
				return err
			}
		}
		if len(incomplete) > 0 {
			if err := transition(ctx, tx, incomplete, domain.StateIncompleteTag, actor); err != nil {
				return err
			}
		}
		if len(checkin.Labels) == 0 {
			return nil
		}
		classMap, err := r.registry.UpsertTx(ctx, tx, domain.UniqueClassificationNames(checkin.Labels))
		if err != nil {
			return err
		}
		resolved, err := domain.ResolveClassifications(checkin.Labels, classMap)
		if err != nil {
			return err
		}
		return insertAnnotatedLabels(ctx, tx, resolved, actor)
	})
	return fail(ctx, op, err)
}

func validateLabels(op string, labels []domain.AnnotatedLabel) error {
	for _, l := range labels {
		if l.ImageID <= 0 {
			return domain.Invalid(op, "image id must be positive, got %d", l.ImageID)
		}
		if strings.TrimSpace(l.ClassificationName) == "" {
			return domain.Invalid(op, "label on image %d has no classification name", l.ImageID)
		}
		if !l.Box.Valid() {
			return domain.Invalid(op, "label on image %d has a non-finite box", l.ImageID)
		}
	}
	return nil
}

type boxGroup struct {
	imageID int64
	box     domain.Box
	classes []int64
}

func insertAnnotatedLabels(ctx context.Context, tx *sql.Tx, labels []domain.AnnotatedLabel, actor int64) error {
	groups := make([]*boxGroup, 0, len(labels))
	byKey := make(map[string]*boxGroup, len(labels))
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		key := fmt.Sprintf("%d|%s", l.ImageID, boxKey(l.Box))
		g, ok := byKey[key]
		if !ok {
			g = &boxGroup{imageID: l.ImageID, box: l.Box}
			byKey[key] = g
			groups = append(groups, g)
		}
		labelKey := fmt.Sprintf("%s|%d", key, l.ClassificationID)
		if _, dup := seen[labelKey]; dup {
			continue
		}
		seen[labelKey] = struct{}{}
		g.classes = append(g.classes, l.ClassificationID)
	}

	const width = 8
	args := make([]any, 0, len(labels)*width)
	rowsPending := 0
	flush := func() error {
		if rowsPending == 0 {
			return nil
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO annotated_labels (image_tag_id, image_id, classification_id, x_min, x_max, y_min, y_max, created_by_user)
VALUES `+valuesRows(1, rowsPending, width), args...)
		if err != nil {
			return fmt.Errorf("insert annotated labels: %w", err)
		}
		args = args[:0]
		rowsPending = 0
		return nil
	}

	for _, g := range groups {
		var tagID int64
		err := tx.QueryRowContext(ctx, `
INSERT INTO image_tags (image_id, x_min, x_max, y_min, y_max, created_by_user)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING image_tag_id
`, g.imageID, g.box.XMin, g.box.XMax, g.box.YMin, g.box.YMax, actor).Scan(&tagID)
		if err != nil {
			return fmt.Errorf("insert image tag for image %d: %w", g.imageID, err)
		}
		for _, classID := range g.classes {
			args = append(args, tagID, g.imageID, classID, g.box.XMin, g.box.XMax, g.box.YMin, g.box.YMax, actor)
			rowsPending++
			if rowsPending == maxRowsPerInsert {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	return flush()
}

func (r *TaggingRepository) RecordCompletedWithoutTags(ctx context.Context, imageIDs []int64, actor int64) error {
	return r.move(ctx, "record completed without tags", imageIDs, domain.StateCompletedTag, actor)
}

func (r *TaggingRepository) RecordIncomplete(ctx context.Context, imageIDs []int64, actor int64) error {
	return r.move(ctx, "record incomplete", imageIDs, domain.StateIncompleteTag, actor)
}

// Abandon withdraws images from the pipeline.
func (r *TaggingRepository) Abandon(ctx context.Context, imageIDs []int64, actor int64) error {
	return r.move(ctx, "abandon images", imageIDs, domain.StateAbandoned, actor)
}

func (r *TaggingRepository) move(ctx context.Context, op string, imageIDs []int64, to domain.ImageTagState, actor int64) error {
	if len(imageIDs) == 0 {
		return nil
	}
	if err := validateActor(op, actor); err != nil {
		return err
	}
	if err := validateIDs(op, imageIDs); err != nil {
		return err
	}
	ids := domain.UniqueIDs(imageIDs)
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		return transition(ctx, tx, ids, to, actor)
	})
	return fail(ctx, op, err)
}

// ReclaimExpired returns checkouts older than olderThan to INCOMPLETE_TAG so
// they become eligible again.
func (r *TaggingRepository) ReclaimExpired(ctx context.Context, olderThan time.Duration, actor int64) ([]int64, error) {
	const op = "reclaim expired checkouts"
	if olderThan <= 0 {
		return nil, domain.Invalid(op, "lease must be positive, got %s", olderThan)
	}
	if err := validateActor(op, actor); err != nil {
		return nil, err
	}

	var reclaimed []int64
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
WITH expired AS (
	SELECT image_id
	FROM image_tagging_state
	WHERE tag_state_id = $1 AND modified_at < now() - make_interval(secs => $2)
	FOR UPDATE SKIP LOCKED
), moved AS (
	UPDATE image_tagging_state s
	SET tag_state_id = $3, modified_by_user = $4, modified_at = now()
	FROM expired
	WHERE s.image_id = expired.image_id
	RETURNING s.image_id, s.tag_state_id, s.modified_by_user, s.modified_at
), audit AS (
	INSERT INTO image_tagging_state_audit (image_id, tag_state_id, modified_by_user, modified_at)
	SELECT image_id, tag_state_id, modified_by_user, modified_at FROM moved
)
SELECT image_id FROM moved ORDER BY image_id
`, int64(domain.StateTagInProgress), olderThan.Seconds(), int64(domain.StateIncompleteTag), actor)
		if err != nil {
			return fmt.Errorf("reclaim checkouts: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("scan reclaimed image: %w", err)
			}
			reclaimed = append(reclaimed, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fail(ctx, op, err)
	}
	return reclaimed, nil
}

// transition moves ids into to, provided each is currently in one of the
// allowed source states, and appends one audit row per moved image. For
// owner-bound targets a TAG_IN_PROGRESS row only moves when actor holds it.
// Fewer moved rows than ids is a conflict and the caller's transaction must abort.
func transition(ctx context.Context, tx *sql.Tx, ids []int64, to domain.ImageTagState, actor int64) error {
	sources := domain.AllowedSources(to)
	if len(sources) == 0 {
		return domain.Invalid("transition", "no transition leads to %s", to)
	}

	args := []any{int64(to), actor}
	args = append(args, idArgs(ids)...)
	args = append(args, stateArgs(sources)...)
	idStart := 3
	stateStart := idStart + len(ids)

	ownerGuard := ""
	if domain.OwnerBound(to) {
		args = append(args, int64(domain.StateTagInProgress))
		ownerGuard = fmt.Sprintf("\n\t\tAND (tag_state_id <> $%d OR modified_by_user = $2)", stateStart+len(sources))
	}

	res, err := tx.ExecContext(ctx, `
WITH moved AS (
	UPDATE image_tagging_state
	SET tag_state_id = $1, modified_by_user = $2, modified_at = now()
	WHERE image_id IN (`+placeholders(idStart, len(ids))+`)
		AND tag_state_id IN (`+placeholders(stateStart, len(sources))+`)`+ownerGuard+`
	RETURNING image_id, tag_state_id, modified_by_user, modified_at
)
INSERT INTO image_tagging_state_audit (image_id, tag_state_id, modified_by_user, modified_at)
SELECT image_id, tag_state_id, modified_by_user, modified_at FROM moved
`, args...)
	if err != nil {
		return fmt.Errorf("transition to %s: %w", to, err)
	}
	moved, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition rows affected: %w", err)
	}
	if moved != int64(len(ids)) {
		return domain.WrapError(domain.ErrConflict, "transition",
			fmt.Errorf("%d of %d images could not move to %s", int64(len(ids))-moved, len(ids), to))
	}
	return nil
}
