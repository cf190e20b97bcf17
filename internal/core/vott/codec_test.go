package vott

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/kirillkom/tagging-coordinator/internal/core/domain"
)

func sequentialUIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("uid-%d", n)
	}
}

func mustEncode(t *testing.T, enc *Encoder, images map[int64]domain.ImageLabel, vocabulary []string) Document {
	t.Helper()
	doc, err := enc.Encode(images, vocabulary)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return doc
}

func TestEncodeBuildsFramesKeyedByFileName(t *testing.T) {
	enc := &Encoder{NewUID: sequentialUIDs()}
	doc := mustEncode(t, enc, map[int64]domain.ImageLabel{
		12: {
			ImageID:  12,
			Location: "https://blobs.example/perm/12.jpg?sig=abc",
			Height:   480,
			Width:    640,
			Tags: []domain.ImageTag{
				{ImageID: 12, Box: domain.Box{XMin: 10, XMax: 20, YMin: 5, YMax: 15}, ClassificationNames: []string{"cat"}},
				{ImageID: 12, Box: domain.Box{XMin: 1, XMax: 2, YMin: 3, YMax: 4}, ClassificationNames: []string{"dog", "puppy"}},
			},
		},
		13: {ImageID: 13, Location: `C:\images\13.png`, Height: 10, Width: 10},
	}, []string{"cat", "dog", "puppy"})

	if doc.InputTags != "cat,dog,puppy" {
		t.Fatalf("unexpected inputTags %q", doc.InputTags)
	}
	if doc.SCD {
		t.Fatalf("expected scd=false")
	}
	regions, ok := doc.Frames["12.jpg"]
	if !ok {
		t.Fatalf("expected frame 12.jpg, got %v", doc.Frames)
	}
	if len(regions) != 2 {
		t.Fatalf("expected 2 regions, got %d", len(regions))
	}
	first := regions[0]
	if first.Type != "Rectangle" || first.ID != 12 || first.Name != 1 || first.UID == "" {
		t.Fatalf("unexpected region header %+v", first)
	}
	if first.Box.X1 != first.X1 || first.Box.Y2 != first.Y2 {
		t.Fatalf("nested box must mirror flat coordinates: %+v", first)
	}
	if first.Width != 640 || first.Height != 480 {
		t.Fatalf("expected image dimensions on region, got %dx%d", first.Width, first.Height)
	}
	if regions[1].Name != 2 || len(regions[1].Tags) != 2 {
		t.Fatalf("unexpected second region %+v", regions[1])
	}
	if regions[0].UID == regions[1].UID {
		t.Fatalf("region UIDs must be unique")
	}
	if empty, ok := doc.Frames["13.png"]; !ok || len(empty) != 0 {
		t.Fatalf("expected empty frame for untagged image, got %v", doc.Frames)
	}
}

func TestEncodedDocumentWireShape(t *testing.T) {
	enc := &Encoder{NewUID: func() string { return "fixed" }}
	doc := mustEncode(t, enc, map[int64]domain.ImageLabel{
		7: {ImageID: 7, Location: "/perm/7.jpg", Height: 2, Width: 3, Tags: []domain.ImageTag{
			{Box: domain.Box{XMin: 1, XMax: 2, YMin: 3, YMax: 4}, ClassificationNames: []string{"cat"}},
		}},
	}, []string{"cat"})

	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	region := generic["frames"].(map[string]any)["7.jpg"].([]any)[0].(map[string]any)
	for _, key := range []string{"x1", "x2", "y1", "y2", "width", "height", "tags", "UID", "box", "type", "id", "name"} {
		if _, ok := region[key]; !ok {
			t.Fatalf("region is missing %q: %s", key, raw)
		}
	}
	tags := region["tags"].([]any)
	if len(tags) != 1 || tags[0] != "cat" {
		t.Fatalf("tags must be a flat list of names, got %v", region["tags"])
	}
	if generic["scd"] != false || generic["inputTags"] != "cat" {
		t.Fatalf("unexpected document header: %s", raw)
	}
}

func TestRoundTripSingleBox(t *testing.T) {
	enc := NewEncoder()
	doc := mustEncode(t, enc, map[int64]domain.ImageLabel{
		5: {ImageID: 5, Location: "https://perm/5.jpg", Height: 100, Width: 100, Tags: []domain.ImageTag{
			{Box: domain.Box{XMin: 10, XMax: 20, YMin: 5, YMax: 15}, ClassificationNames: []string{"cat"}},
		}},
	}, []string{"cat"})
	doc.VisitedFrames = []string{"5.jpg"}

	p, err := Decode(doc)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(p.Labels) != 1 {
		t.Fatalf("expected 1 label, got %d", len(p.Labels))
	}
	got := p.Labels[0]
	want := domain.Box{XMin: 10, XMax: 20, YMin: 5, YMax: 15}
	if got.ImageID != 5 || got.ClassificationName != "cat" || got.Box != want {
		t.Fatalf("unexpected label %+v", got)
	}

	resolved, err := domain.ResolveClassifications(p.Labels, map[string]int64{"cat": 9})
	if err != nil {
		t.Fatalf("ResolveClassifications() error = %v", err)
	}
	if resolved[0].ClassificationID != 9 {
		t.Fatalf("expected classification id 9, got %d", resolved[0].ClassificationID)
	}
}

func TestDecodePartitionsOfferedFrames(t *testing.T) {
	doc := Document{
		Frames: map[string][]Region{
			"1.jpg": {{X1: 1, X2: 2, Y1: 1, Y2: 2, Tags: []string{"cat", "dog"}}},
			"2.jpg": {},
			"3.jpg": nil,
			"4.jpg": {{X1: 1, X2: 2, Y1: 1, Y2: 2, Tags: []string{" "}}},
			"5.jpg": {{X1: 3, X2: 4, Y1: 3, Y2: 4, Tags: []string{"cat"}}},
		},
		VisitedFrames: []string{"1.jpg", "2.jpg", "4.jpg"},
	}

	p, err := Decode(doc)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	assertIDs(t, "tagged", p.Tagged, []int64{1, 5})
	assertIDs(t, "visitedNoTag", p.VisitedNoTag, []int64{2, 4})
	assertIDs(t, "notVisited", p.NotVisited, []int64{3})
	if p.Offered() != 5 {
		t.Fatalf("expected partition to cover 5 frames, got %d", p.Offered())
	}
	if len(p.Labels) != 3 {
		t.Fatalf("expected one label per (box, name), got %d", len(p.Labels))
	}
	if len(p.UniqueClassNames) != 2 || p.UniqueClassNames[0] != "cat" || p.UniqueClassNames[1] != "dog" {
		t.Fatalf("unexpected class names %v", p.UniqueClassNames)
	}

	seen := map[int64]int{}
	for _, set := range [][]int64{p.Tagged, p.VisitedNoTag, p.NotVisited} {
		for _, id := range set {
			seen[id]++
		}
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("image %d appears in %d partitions", id, n)
		}
	}
}

func TestDecodeRejectsMalformedDocuments(t *testing.T) {
	cases := map[string]Document{
		"frame without id": {Frames: map[string][]Region{"cat.jpg": nil}},
		"visited not offered": {
			Frames:        map[string][]Region{"1.jpg": nil},
			VisitedFrames: []string{"2.jpg"},
		},
		"same image twice": {Frames: map[string][]Region{"1.jpg": nil, "/x/1.png": nil}},
	}
	for name, doc := range cases {
		if _, err := Decode(doc); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
}

func TestFileNameAndImageID(t *testing.T) {
	cases := []struct {
		in   string
		name string
		id   int64
	}{
		{"https://acct.blob.core.windows.net/perm/42.jpg?sv=2020", "42.jpg", 42},
		{`C:\Users\me\Desktop\17.png`, "17.png", 17},
		{"/tmp/vott/8.tar.gz", "8.tar.gz", 8},
		{"3", "3", 3},
	}
	for _, tc := range cases {
		if got := FileName(tc.in); got != tc.name {
			t.Fatalf("FileName(%q) = %q, want %q", tc.in, got, tc.name)
		}
		id, err := ImageIDFromFileName(tc.in)
		if err != nil {
			t.Fatalf("ImageIDFromFileName(%q) error = %v", tc.in, err)
		}
		if id != tc.id {
			t.Fatalf("ImageIDFromFileName(%q) = %d, want %d", tc.in, id, tc.id)
		}
	}
}

func TestTrimFramePaths(t *testing.T) {
	doc := Document{
		Frames: map[string][]Region{
			"/home/tagger/batch/1.jpg": {{Tags: []string{"cat"}}},
			`D:\batch\2.jpg`:           nil,
		},
		InputTags:     "cat",
		VisitedFrames: []string{"/home/tagger/batch/1.jpg"},
	}
	out, err := TrimFramePaths(doc)
	if err != nil {
		t.Fatalf("TrimFramePaths() error = %v", err)
	}
	if _, ok := out.Frames["1.jpg"]; !ok {
		t.Fatalf("expected trimmed key 1.jpg, got %v", out.Frames)
	}
	if _, ok := out.Frames["2.jpg"]; !ok {
		t.Fatalf("expected trimmed key 2.jpg, got %v", out.Frames)
	}
	if out.VisitedFrames[0] != "1.jpg" || out.InputTags != "cat" {
		t.Fatalf("unexpected trimmed document %+v", out)
	}

	collide := Document{Frames: map[string][]Region{"/a/1.jpg": nil, "/b/1.jpg": nil}}
	if _, err := TrimFramePaths(collide); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput on collision, got %v", err)
	}
}

func assertIDs(t *testing.T, label string, got, want []int64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s = %v, want %v", label, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%s = %v, want %v", label, got, want)
		}
	}
}

func TestEncodeRejectsSharedUploadNames(t *testing.T) {
	enc := &Encoder{NewUID: sequentialUIDs()}
	_, err := enc.Encode(map[int64]domain.ImageLabel{
		5: {ImageID: 5, Location: "https://blobs/a/temp/img.jpg", Height: 1, Width: 1},
		6: {ImageID: 6, Location: "https://blobs/b/temp/img.jpg", Height: 1, Width: 1},
	}, nil)
	if !domain.IsKind(err, domain.ErrConsistency) {
		t.Fatalf("expected ErrConsistency for frames that lose their image, got %v", err)
	}
}

func TestEncodeRejectsLocationNamingAnotherImage(t *testing.T) {
	enc := &Encoder{NewUID: sequentialUIDs()}
	_, err := enc.Encode(map[int64]domain.ImageLabel{
		5: {ImageID: 5, Location: "https://perm/6.jpg", Height: 1, Width: 1},
		6: {ImageID: 6, Location: "https://perm/6.png", Height: 1, Width: 1},
	}, nil)
	if !domain.IsKind(err, domain.ErrConsistency) {
		t.Fatalf("expected ErrConsistency for a location naming image 6, got %v", err)
	}
}

func TestEncodeEveryOfferedImageDecodesBack(t *testing.T) {
	enc := &Encoder{NewUID: sequentialUIDs()}
	images := map[int64]domain.ImageLabel{}
	for id := int64(1); id <= 20; id++ {
		images[id] = domain.ImageLabel{ImageID: id, Location: fmt.Sprintf("https://perm/%d.jpg", id), Height: 1, Width: 1}
	}
	doc := mustEncode(t, enc, images, nil)
	p, err := Decode(doc)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(doc.Frames) != len(images) || p.Offered() != len(images) {
		t.Fatalf("expected %d frames, got %d (offered %d)", len(images), len(doc.Frames), p.Offered())
	}
}

func TestDecodeKeepsTagNamesVerbatim(t *testing.T) {
	doc := Document{
		Frames: map[string][]Region{
			"1.jpg": {{X1: 1, X2: 2, Y1: 1, Y2: 2, Tags: []string{"Cat", "cat ", "cat"}}},
		},
		VisitedFrames: []string{"1.jpg"},
	}

	p, err := Decode(doc)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	want := []string{"Cat", "cat", "cat "}
	if len(p.UniqueClassNames) != len(want) {
		t.Fatalf("class names = %q, want %q", p.UniqueClassNames, want)
	}
	for i := range want {
		if p.UniqueClassNames[i] != want[i] {
			t.Fatalf("class names = %q, want %q", p.UniqueClassNames, want)
		}
	}
	if len(p.Labels) != 3 {
		t.Fatalf("expected one label per distinct name, got %d", len(p.Labels))
	}
}
