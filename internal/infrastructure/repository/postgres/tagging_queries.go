package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/kirillkom/tagging-coordinator/internal/core/domain"
)

// QueryByState lists images in any of states, newest first. limit <= 0 means no limit.
func (r *TaggingRepository) QueryByState(ctx context.Context, states []domain.ImageTagState, limit int) ([]domain.ImageRef, error) {
	const op = "query images by state"
	out := make([]domain.ImageRef, 0)
	if len(states) == 0 {
		return out, nil
	}
	for _, s := range states {
		if !s.Valid() {
			return nil, domain.Invalid(op, "unknown tag state %d", int(s))
		}
	}

	args := stateArgs(states)
	query := `
SELECT i.image_id, i.image_location
FROM image_info i
JOIN image_tagging_state s ON s.image_id = i.image_id
WHERE s.tag_state_id IN (` + placeholders(1, len(states)) + `)
ORDER BY i.created_at DESC, i.image_id DESC
`
	if limit > 0 {
		query += "LIMIT $" + strconv.Itoa(len(args)+1) + "\n"
		args = append(args, int64(limit))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fail(ctx, op, err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref domain.ImageRef
		if err := rows.Scan(&ref.ID, &ref.Location); err != nil {
			return nil, fail(ctx, op, fmt.Errorf("scan image ref: %w", err))
		}
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(ctx, op, fmt.Errorf("iterate image refs: %w", err))
	}
	return out, nil
}

func (r *TaggingRepository) QueryByIDs(ctx context.Context, imageIDs []int64) ([]domain.ImageInfo, error) {
	const op = "query images by id"
	out := make([]domain.ImageInfo, 0, len(imageIDs))
	if len(imageIDs) == 0 {
		return out, nil
	}
	if err := validateIDs(op, imageIDs); err != nil {
		return nil, err
	}
	ids := domain.UniqueIDs(imageIDs)

	rows, err := r.db.QueryContext(ctx, `
SELECT image_id, original_image_name, image_location, height, width, created_by_user
FROM image_info
WHERE image_id IN (`+placeholders(1, len(ids))+`)
ORDER BY image_id
`, idArgs(ids)...)
	if err != nil {
		return nil, fail(ctx, op, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			info          domain.ImageInfo
			height, width int64
		)
		if err := rows.Scan(&info.ID, &info.Name, &info.Location, &height, &width, &info.CreatedBy); err != nil {
			return nil, fail(ctx, op, fmt.Errorf("scan image info: %w", err))
		}
		info.Height, info.Width = int(height), int(width)
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(ctx, op, fmt.Errorf("iterate image info: %w", err))
	}
	return out, nil
}

const labelsSelect = `
SELECT i.image_id, i.image_location, i.height, i.width,
	t.image_tag_id, t.x_min, t.x_max, t.y_min, t.y_max, c.classification_name
FROM image_info i
LEFT JOIN annotated_labels a ON a.image_id = i.image_id
LEFT JOIN image_tags t ON t.image_tag_id = a.image_tag_id
LEFT JOIN classification_info c ON c.classification_id = a.classification_id
`

const labelsOrder = `
ORDER BY i.image_id, t.image_tag_id, c.classification_name
`

// GetLabels returns every image that has curated labels, one tag per stored box.
func (r *TaggingRepository) GetLabels(ctx context.Context) ([]domain.ImageLabel, error) {
	const op = "get labels"
	out, err := r.queryLabels(ctx, labelsSelect+`WHERE EXISTS (SELECT 1 FROM annotated_labels x WHERE x.image_id = i.image_id)`+labelsOrder)
	if err != nil {
		return nil, fail(ctx, op, err)
	}
	return out, nil
}

// GetLabelsForImages returns the requested images with their curated tags.
// Images without labels are included with an empty tag list.
func (r *TaggingRepository) GetLabelsForImages(ctx context.Context, imageIDs []int64) ([]domain.ImageLabel, error) {
	const op = "get labels for images"
	if len(imageIDs) == 0 {
		return []domain.ImageLabel{}, nil
	}
	if err := validateIDs(op, imageIDs); err != nil {
		return nil, err
	}
	ids := domain.UniqueIDs(imageIDs)
	out, err := r.queryLabels(ctx, labelsSelect+`WHERE i.image_id IN (`+placeholders(1, len(ids))+`)`+labelsOrder, idArgs(ids)...)
	if err != nil {
		return nil, fail(ctx, op, err)
	}
	return out, nil
}

func (r *TaggingRepository) queryLabels(ctx context.Context, query string, args ...any) ([]domain.ImageLabel, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query labels: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ImageLabel, 0)
	index := make(map[int64]int)
	g := newTagGrouper()
	for rows.Next() {
		var (
			imageID        int64
			location       string
			height, width  int64
			tagID          sql.NullInt64
			xMin, xMax     sql.NullFloat64
			yMin, yMax     sql.NullFloat64
			classification sql.NullString
		)
		if err := rows.Scan(&imageID, &location, &height, &width, &tagID, &xMin, &xMax, &yMin, &yMax, &classification); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		if _, ok := index[imageID]; !ok {
			index[imageID] = len(out)
			out = append(out, domain.ImageLabel{
				ImageID:  imageID,
				Location: location,
				Height:   int(height),
				Width:    int(width),
				Tags:     []domain.ImageTag{},
			})
		}
		if !tagID.Valid || !classification.Valid {
			continue
		}
		box := domain.Box{XMin: xMin.Float64, XMax: xMax.Float64, YMin: yMin.Float64, YMax: yMax.Float64}
		g.add(imageID, strconv.FormatInt(tagID.Int64, 10), box, classification.String)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate labels: %w", err)
	}

	for imageID, tags := range g.tags() {
		out[index[imageID]].Tags = tags
	}
	return out, nil
}

// History returns the audit trail of an image, oldest first.
func (r *TaggingRepository) History(ctx context.Context, imageID int64) ([]domain.StateChange, error) {
	const op = "image state history"
	if imageID <= 0 {
		return nil, domain.Invalid(op, "image id must be positive, got %d", imageID)
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT a.image_id, a.tag_state_id, a.modified_by_user, u.user_name, a.modified_at
FROM image_tagging_state_audit a
JOIN user_info u ON u.user_id = a.modified_by_user
WHERE a.image_id = $1
ORDER BY a.modified_at, a.audit_id
`, imageID)
	if err != nil {
		return nil, fail(ctx, op, err)
	}
	defer rows.Close()

	out := make([]domain.StateChange, 0)
	for rows.Next() {
		var (
			change domain.StateChange
			state  int64
		)
		if err := rows.Scan(&change.ImageID, &state, &change.ModifiedBy, &change.UserName, &change.ModifiedAt); err != nil {
			return nil, fail(ctx, op, fmt.Errorf("scan state change: %w", err))
		}
		change.State = domain.ImageTagState(state)
		if !change.State.Valid() {
			return nil, fail(ctx, op, domain.WrapError(domain.ErrConsistency, op, fmt.Errorf("unknown tag state %d", state)))
		}
		out = append(out, change)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(ctx, op, fmt.Errorf("iterate state changes: %w", err))
	}
	return out, nil
}

// CountTaggedImages counts COMPLETED_TAG images carrying curated labels. The
// ROLLUP row (NULL name) holds the distinct image total.
func (r *TaggingRepository) CountTaggedImages(ctx context.Context) (domain.TagCounts, error) {
	const op = "count tagged images"
	rows, err := r.db.QueryContext(ctx, `
SELECT c.classification_name, COUNT(DISTINCT a.image_id)
FROM annotated_labels a
JOIN classification_info c ON c.classification_id = a.classification_id
JOIN image_tagging_state s ON s.image_id = a.image_id
WHERE s.tag_state_id = $1
GROUP BY ROLLUP (c.classification_name)
`, int64(domain.StateCompletedTag))
	if err != nil {
		return domain.TagCounts{}, fail(ctx, op, err)
	}
	defer rows.Close()

	counts := domain.TagCounts{ByClass: make(map[string]int)}
	for rows.Next() {
		var (
			name sql.NullString
			n    int64
		)
		if err := rows.Scan(&name, &n); err != nil {
			return domain.TagCounts{}, fail(ctx, op, fmt.Errorf("scan tag count: %w", err))
		}
		if !name.Valid {
			counts.Images = int(n)
			continue
		}
		counts.ByClass[name.String] = int(n)
	}
	if err := rows.Err(); err != nil {
		return domain.TagCounts{}, fail(ctx, op, fmt.Errorf("iterate tag counts: %w", err))
	}
	return counts, nil
}

// tagGrouper folds (image, box, name) rows into one ImageTag per box,
// preserving row order.
type tagGrouper struct {
	order map[int64][]string
	byKey map[int64]map[string]*domain.ImageTag
}

func newTagGrouper() *tagGrouper {
	return &tagGrouper{
		order: make(map[int64][]string),
		byKey: make(map[int64]map[string]*domain.ImageTag),
	}
}

func (g *tagGrouper) add(imageID int64, key string, box domain.Box, name string) {
	tags, ok := g.byKey[imageID]
	if !ok {
		tags = make(map[string]*domain.ImageTag)
		g.byKey[imageID] = tags
	}
	tag, ok := tags[key]
	if !ok {
		tag = &domain.ImageTag{ImageID: imageID, Box: box}
		tags[key] = tag
		g.order[imageID] = append(g.order[imageID], key)
	}
	for _, existing := range tag.ClassificationNames {
		if existing == name {
			return
		}
	}
	tag.ClassificationNames = append(tag.ClassificationNames, name)
}

func (g *tagGrouper) tags() map[int64][]domain.ImageTag {
	out := make(map[int64][]domain.ImageTag, len(g.order))
	for imageID, keys := range g.order {
		list := make([]domain.ImageTag, 0, len(keys))
		for _, k := range keys {
			list = append(list, *g.byKey[imageID][k])
		}
		out[imageID] = list
	}
	return out
}

func boxKey(b domain.Box) string {
	return fmt.Sprintf("%g,%g,%g,%g", b.XMin, b.XMax, b.YMin, b.YMax)
}
