package domain

import (
	"path"
	"strings"
)

// OnboardImage is one uploaded blob waiting to be registered.
type OnboardImage struct {
	Container string `json:"container"`
	BlobName  string `json:"blob_name"`
	FileName  string `json:"file_name"`
	Height    int    `json:"height"`
	Width     int    `json:"width"`
}

type OnboardRequest struct {
	UserName string         `json:"user_name"`
	Images   []OnboardImage `json:"images"`
}

var supportedImageExtensions = map[string]struct{}{
	".gif":  {},
	".png":  {},
	".jpg":  {},
	".jpeg": {},
}

// IsSupportedImageFile reports whether name carries an onboardable image extension.
func IsSupportedImageFile(name string) bool {
	_, ok := supportedImageExtensions[strings.ToLower(path.Ext(name))]
	return ok
}

func (r OnboardRequest) Validate() error {
	const op = "validate onboard request"
	if strings.TrimSpace(r.UserName) == "" {
		return Invalid(op, "user name is required")
	}
	if len(r.Images) == 0 {
		return Invalid(op, "at least one image is required")
	}
	for _, img := range r.Images {
		if strings.TrimSpace(img.Container) == "" || strings.TrimSpace(img.BlobName) == "" {
			return Invalid(op, "container and blob name are required")
		}
		if !IsSupportedImageFile(img.BlobName) {
			return Invalid(op, "unsupported image file type %q", img.BlobName)
		}
		if img.Height <= 0 || img.Width <= 0 {
			return Invalid(op, "image %q must have positive dimensions", img.BlobName)
		}
	}
	return nil
}

// CheckinSummary reports how a returned annotation document was applied.
type CheckinSummary struct {
	TotalImages      int      `json:"total_images"`
	TaggedImages     []int64  `json:"tagged_images"`
	VisitedNoTag     []int64  `json:"visited_no_tag"`
	NotVisited       []int64  `json:"not_visited"`
	LabelsWritten    int      `json:"labels_written"`
	UniqueClassNames []string `json:"unique_class_names"`
}
