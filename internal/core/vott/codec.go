// Package vott converts between checked-out image labels and the VOTT
// annotation document exchanged with the external labeling tool.
//
// A frame is keyed by the image file name, and the base of that name (up to
// the first '.') is the durable image id. Every location handed to Encode must
// therefore end in "<id>.<ext>".
package vott

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/kirillkom/tagging-coordinator/internal/core/domain"
)

const regionType = "Rectangle"

type Document struct {
	Frames        map[string][]Region `json:"frames"`
	InputTags     string              `json:"inputTags"`
	SCD           bool                `json:"scd"`
	VisitedFrames []string            `json:"visitedFrames,omitempty"`
}

type RegionBox struct {
	X1 float64 `json:"x1"`
	X2 float64 `json:"x2"`
	Y1 float64 `json:"y1"`
	Y2 float64 `json:"y2"`
}

// Region is one rectangle drawn on a frame.
type Region struct {
	X1     float64   `json:"x1"`
	X2     float64   `json:"x2"`
	Y1     float64   `json:"y1"`
	Y2     float64   `json:"y2"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Tags   []string  `json:"tags"`
	UID    string    `json:"UID"`
	Box    RegionBox `json:"box"`
	Type   string    `json:"type"`
	ID     int64     `json:"id"`
	Name   int       `json:"name"`
}

// Encoder builds documents. NewUID defaults to uuid.NewString.
type Encoder struct {
	NewUID func() string
}

func NewEncoder() *Encoder {
	return &Encoder{NewUID: uuid.NewString}
}

// Encode renders one frame per image. Images without tags still get an empty
// frame so the tool offers them. Suggested tags are rendered like curated ones;
// they only become curated once the tagger sends them back.
//
// An image whose location does not name its own id cannot be returned, so
// Encode fails with ErrConsistency rather than drop or overwrite a frame.
func (e *Encoder) Encode(images map[int64]domain.ImageLabel, vocabulary []string) (Document, error) {
	const op = "encode document"
	newUID := e.NewUID
	if newUID == nil {
		newUID = uuid.NewString
	}

	ids := make([]int64, 0, len(images))
	for id := range images {
		ids = append(ids, id)
	}
	sortIDs(ids)

	frames := make(map[string][]Region, len(images))
	for _, id := range ids {
		img := images[id]
		key := FileName(img.Location)
		if keyID, err := ImageIDFromFileName(key); err != nil || keyID != id {
			return Document{}, domain.WrapError(domain.ErrConsistency, op,
				fmt.Errorf("image %d location %q does not name the image", id, img.Location))
		}
		if _, dup := frames[key]; dup {
			return Document{}, domain.WrapError(domain.ErrConsistency, op,
				fmt.Errorf("frame %q is claimed by more than one image", key))
		}

		regions := make([]Region, 0, len(img.Tags))
		for _, tag := range img.Tags {
			if len(tag.ClassificationNames) == 0 {
				continue
			}
			regions = append(regions, Region{
				X1:     tag.Box.XMin,
				X2:     tag.Box.XMax,
				Y1:     tag.Box.YMin,
				Y2:     tag.Box.YMax,
				Width:  img.Width,
				Height: img.Height,
				Tags:   append([]string(nil), tag.ClassificationNames...),
				UID:    newUID(),
				Box: RegionBox{
					X1: tag.Box.XMin,
					X2: tag.Box.XMax,
					Y1: tag.Box.YMin,
					Y2: tag.Box.YMax,
				},
				Type: regionType,
				ID:   id,
				Name: len(regions) + 1,
			})
		}
		frames[key] = regions
	}

	return Document{
		Frames:    frames,
		InputTags: strings.Join(vocabulary, ","),
		SCD:       false,
	}, nil
}

// FileName strips the query string and every path component from location.
func FileName(location string) string {
	if i := strings.IndexAny(location, "?#"); i >= 0 {
		location = location[:i]
	}
	if i := strings.LastIndexAny(location, `/\`); i >= 0 {
		location = location[i+1:]
	}
	return location
}

// ImageIDFromFileName recovers the image id from a frame key or location.
func ImageIDFromFileName(name string) (int64, error) {
	base := FileName(name)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	id, err := strconv.ParseInt(base, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Invalid("parse frame name", "frame %q does not carry an image id", name)
	}
	return id, nil
}

// TrimFramePaths rewrites frame keys and visited entries to bare file names.
// Documents saved by the desktop tool carry local absolute paths.
func TrimFramePaths(doc Document) (Document, error) {
	out := Document{
		Frames:        make(map[string][]Region, len(doc.Frames)),
		InputTags:     doc.InputTags,
		SCD:           doc.SCD,
		VisitedFrames: make([]string, 0, len(doc.VisitedFrames)),
	}
	for key, regions := range doc.Frames {
		name := FileName(key)
		if _, dup := out.Frames[name]; dup {
			return Document{}, domain.Invalid("trim frame paths", "frames %q collide after trimming", name)
		}
		out.Frames[name] = regions
	}
	for _, v := range doc.VisitedFrames {
		out.VisitedFrames = append(out.VisitedFrames, FileName(v))
	}
	return out, nil
}

// Partition is the result of decoding a returned document. Tagged,
// VisitedNoTag and NotVisited are disjoint, sorted, and together cover every
// offered frame.
type Partition struct {
	Labels           []domain.AnnotatedLabel
	Tagged           []int64
	VisitedNoTag     []int64
	NotVisited       []int64
	UniqueClassNames []string
}

func (p Partition) Offered() int {
	return len(p.Tagged) + len(p.VisitedNoTag) + len(p.NotVisited)
}

// Decode splits a document into labels and the three image id sets. Labels
// carry names only; ids are filled in by the registry afterwards.
func Decode(doc Document) (Partition, error) {
	const op = "decode document"

	offered := make(map[int64]struct{}, len(doc.Frames))
	keys := make([]string, 0, len(doc.Frames))
	for key := range doc.Frames {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var p Partition
	tagged := make(map[int64]struct{})
	classNames := make(map[string]struct{})
	for _, key := range keys {
		id, err := ImageIDFromFileName(key)
		if err != nil {
			return Partition{}, err
		}
		if _, dup := offered[id]; dup {
			return Partition{}, domain.Invalid(op, "image %d appears in more than one frame", id)
		}
		offered[id] = struct{}{}

		for _, r := range doc.Frames[key] {
			box := domain.Box{XMin: r.X1, XMax: r.X2, YMin: r.Y1, YMax: r.Y2}
			if !box.Valid() {
				return Partition{}, domain.Invalid(op, "frame %q has a non-finite box", key)
			}
			for _, name := range r.Tags {
				if strings.TrimSpace(name) == "" {
					continue
				}
				tagged[id] = struct{}{}
				classNames[name] = struct{}{}
				p.Labels = append(p.Labels, domain.AnnotatedLabel{
					ImageID:            id,
					ClassificationName: name,
					Box:                box,
				})
			}
		}
	}

	visited := make(map[int64]struct{}, len(doc.VisitedFrames))
	for _, v := range doc.VisitedFrames {
		id, err := ImageIDFromFileName(v)
		if err != nil {
			return Partition{}, err
		}
		if _, ok := offered[id]; !ok {
			return Partition{}, domain.Invalid(op, "visited frame %q was not offered", v)
		}
		visited[id] = struct{}{}
	}

	for id := range offered {
		_, isTagged := tagged[id]
		_, isVisited := visited[id]
		switch {
		case isTagged:
			p.Tagged = append(p.Tagged, id)
		case isVisited:
			p.VisitedNoTag = append(p.VisitedNoTag, id)
		default:
			p.NotVisited = append(p.NotVisited, id)
		}
	}
	sortIDs(p.Tagged)
	sortIDs(p.VisitedNoTag)
	sortIDs(p.NotVisited)

	p.UniqueClassNames = make([]string, 0, len(classNames))
	for name := range classNames {
		p.UniqueClassNames = append(p.UniqueClassNames, name)
	}
	sort.Strings(p.UniqueClassNames)
	return p, nil
}

// Summary reports the partition in the check-in response shape.
func (p Partition) Summary() domain.CheckinSummary {
	return domain.CheckinSummary{
		TotalImages:      p.Offered(),
		TaggedImages:     nonNil(p.Tagged),
		VisitedNoTag:     nonNil(p.VisitedNoTag),
		NotVisited:       nonNil(p.NotVisited),
		LabelsWritten:    len(p.Labels),
		UniqueClassNames: p.UniqueClassNames,
	}
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
