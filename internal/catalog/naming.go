package catalog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

const (
	// ArtifactExt is the container extension of every audio artifact.
	ArtifactExt = ".wav"

	micSuffix   = "_mic"
	maxBaseLen  = 80
	defaultBase = "clip"
)

var ErrNotArtifact = errors.New("not an artifact name")

// ArtifactName holds the fields encoded in an artifact file name.
type ArtifactName struct {
	Base     string
	StartMs  int64
	EndMs    int64
	Category Category
}

// BuildArtifactName returns <base>_<startMs>_<endMs>[_mic].wav. Millisecond
// fields are zero-padded to eight digits so names of one source sort by start.
func BuildArtifactName(base string, startMs, endMs int64, category Category) string {
	name := fmt.Sprintf("%s_%08d_%08d", SanitizeBase(base), startMs, endMs)
	if category == CategoryMic {
		name += micSuffix
	}
	return name + ArtifactExt
}

// ParseArtifactName is the inverse of BuildArtifactName.
func ParseArtifactName(name string) (ArtifactName, error) {
	stem, ok := strings.CutSuffix(name, ArtifactExt)
	if !ok {
		return ArtifactName{}, fmt.Errorf("%w: %q", ErrNotArtifact, name)
	}

	out := ArtifactName{Category: CategorySource}
	if s, ok := strings.CutSuffix(stem, micSuffix); ok {
		stem = s
		out.Category = CategoryMic
	}

	parts := strings.Split(stem, "_")
	if len(parts) < 3 {
		return ArtifactName{}, fmt.Errorf("%w: %q", ErrNotArtifact, name)
	}
	end, err := parseMs(parts[len(parts)-1])
	if err != nil {
		return ArtifactName{}, fmt.Errorf("%w: %q", ErrNotArtifact, name)
	}
	start, err := parseMs(parts[len(parts)-2])
	if err != nil {
		return ArtifactName{}, fmt.Errorf("%w: %q", ErrNotArtifact, name)
	}
	out.Base = strings.Join(parts[:len(parts)-2], "_")
	if out.Base == "" {
		return ArtifactName{}, fmt.Errorf("%w: %q", ErrNotArtifact, name)
	}
	out.StartMs, out.EndMs = start, end
	return out, nil
}

func parseMs(s string) (int64, error) {
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.ParseInt(s, 10, 64)
}

// LatestName is the file name of the always-overwritten pointer for category.
func LatestName(category Category) string {
	if category == CategoryMic {
		return "latest" + micSuffix + ArtifactExt
	}
	return "latest" + ArtifactExt
}

// SanitizeBase makes a media file stem safe to use in an artifact name.
func SanitizeBase(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if isAllowedNameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	cleaned := strings.TrimSpace(b.String())
	if runes := []rune(cleaned); len(runes) > maxBaseLen {
		cleaned = strings.TrimSpace(string(runes[:maxBaseLen]))
	}
	if cleaned == "" || strings.Trim(cleaned, "._") == "" {
		return defaultBase
	}
	return cleaned
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '-', '_', '.', ',', '(', ')':
		return true
	default:
		return false
	}
}
