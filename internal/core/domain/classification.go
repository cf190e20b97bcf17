package domain

import (
	"fmt"
	"sort"
	"strings"
)

type Classification struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type User struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// NormalizeClassificationNames de-duplicates and sorts names. Names are free
// text and kept byte for byte, so "cat", "Cat" and " cat" are three names.
// A name that is empty or only whitespace is rejected.
func NormalizeClassificationNames(names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, Invalid("normalize classification names", "at least one classification name is required")
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			return nil, Invalid("normalize classification names", "classification name must not be blank")
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// ResolveClassifications fills ClassificationID on every label from classMap.
func ResolveClassifications(labels []AnnotatedLabel, classMap map[string]int64) ([]AnnotatedLabel, error) {
	out := make([]AnnotatedLabel, len(labels))
	for i, l := range labels {
		id, ok := classMap[l.ClassificationName]
		if !ok {
			return nil, WrapError(ErrConsistency, "resolve classifications", fmt.Errorf("no id for classification %q", l.ClassificationName))
		}
		l.ClassificationID = id
		out[i] = l
	}
	return out, nil
}
