package generation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/makeasinger/orchestrator/internal/model"
)

// ResultNormalizer maps backend success payloads to canonical tracks
type ResultNormalizer struct {
	registry *Registry
}

func NewResultNormalizer(registry *Registry) *ResultNormalizer {
	return &ResultNormalizer{registry: registry}
}

// Normalize converts payload from backendName into tracks. Missing optional
// fields are defaulted; an empty result is a *NormalizationError.
func (n *ResultNormalizer) Normalize(backendName string, payload []byte) ([]model.Track, error) {
	desc, ok := n.registry.Lookup(backendName)
	if !ok {
		return nil, &NormalizationError{Backend: backendName, Reason: "unknown backend"}
	}

	tracks, err := desc.MapTracks(payload)
	if err != nil {
		return nil, &NormalizationError{Backend: backendName, Reason: err.Error()}
	}
	if len(tracks) == 0 {
		return nil, &NormalizationError{Backend: backendName, Reason: "payload contains no tracks"}
	}

	out := make([]model.Track, 0, len(tracks))
	for i, t := range tracks {
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		if t.Title == "" {
			t.Title = fmt.Sprintf("Untitled %d", i+1)
		}
		if t.DurationSeconds < 0 {
			t.DurationSeconds = 0
		}
		out = append(out, t)
	}
	return out, nil
}

// TrackFields lists gjson paths, relative to one track element, of each
// track field. Fields with several candidate paths use the first present one.
type TrackFields struct {
	ID       []string
	Title    []string
	Duration []string
	Audio    []string
	Style    map[string]string // metadata key -> path
}

// JSONTrackMapper builds a TrackMapper reading the array at listPath.
func JSONTrackMapper(listPath string, fields TrackFields) TrackMapper {
	return func(payload []byte) ([]model.Track, error) {
		if !gjson.ValidBytes(payload) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		list := gjson.GetBytes(payload, listPath)
		if !list.Exists() {
			return nil, fmt.Errorf("missing %q", listPath)
		}
		if !list.IsArray() {
			return nil, fmt.Errorf("%q is not a list", listPath)
		}

		var tracks []model.Track
		list.ForEach(func(_, item gjson.Result) bool {
			if !item.IsObject() {
				return true
			}
			t := model.Track{
				ID:              firstString(item, fields.ID),
				Title:           firstString(item, fields.Title),
				AudioLocator:    firstString(item, fields.Audio),
				DurationSeconds: firstDuration(item, fields.Duration),
			}
			for key, path := range fields.Style {
				if v := item.Get(path); v.Exists() && v.String() != "" {
					if t.StyleMetadata == nil {
						t.StyleMetadata = make(map[string]string)
					}
					t.StyleMetadata[key] = v.String()
				}
			}
			tracks = append(tracks, t)
			return true
		})
		return tracks, nil
	}
}

func firstString(item gjson.Result, paths []string) string {
	for _, p := range paths {
		if v := item.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func firstDuration(item gjson.Result, paths []string) float64 {
	for _, p := range paths {
		v := item.Get(p)
		if !v.Exists() {
			continue
		}
		if v.Type == gjson.Number {
			return v.Float()
		}
		if secs, ok := ParseDuration(v.String()); ok {
			return secs
		}
	}
	return 0
}

// ParseDuration reads "m:ss", "h:mm:ss" or a plain number of seconds.
func ParseDuration(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if !strings.Contains(s, ":") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f < 0 {
			return 0, false
		}
		return f, true
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, false
	}
	var total float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil || f < 0 {
			return 0, false
		}
		if i > 0 && f >= 60 {
			return 0, false
		}
		total = total*60 + f
	}
	return total, true
}
