package generation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/orchestrator/internal/model"
)

func TestNormalize_InstrumentalWithoutDescription(t *testing.T) {
	n := NewRequestNormalizer(0)

	_, err := n.Normalize(RawRequest{Instrumental: true, Lyrics: "la la la", RequesterID: "user-1"})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "a style prompt is required for instrumental tracks", verr.Fields["description"])
	assert.False(t, verr.Retryable())
	assert.Equal(t, KindValidation, verr.Kind())
}

func TestNormalize_Canonicalizes(t *testing.T) {
	n := NewRequestNormalizer(0)

	req, err := n.Normalize(RawRequest{
		Description: "  dreamy synthwave  ",
		Lyrics:      "\nverse one\nchorus\n",
		StylePreset: " Electronic ",
		RequesterID: " user-1 ",
	})
	require.NoError(t, err)

	assert.Equal(t, model.GenerationRequest{
		Description: "dreamy synthwave",
		Lyrics:      "verse one\nchorus",
		StylePreset: model.StylePresetElectronic,
		RequesterID: "user-1",
	}, req)
}

func TestNormalize_DefaultsStylePreset(t *testing.T) {
	n := NewRequestNormalizer(0)

	req, err := n.Normalize(RawRequest{Lyrics: "only lyrics here", RequesterID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, model.StylePresetDefault, req.StylePreset)
	assert.Empty(t, req.Description)
}

func TestNormalize_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		raw     RawRequest
		field   string
		message string
	}{
		{
			name:    "nothing to generate from",
			raw:     RawRequest{Description: "   ", RequesterID: "user-1"},
			field:   "description",
			message: "a description or lyrics are required",
		},
		{
			name:    "missing requester",
			raw:     RawRequest{Description: "song"},
			field:   "requesterId",
			message: "is required",
		},
		{
			name:    "unknown preset",
			raw:     RawRequest{Description: "song", StylePreset: "polka", RequesterID: "user-1"},
			field:   "stylePreset",
			message: "must be one of: default professional cinematic electronic acoustic orchestral experimental",
		},
		{
			name:    "control characters in description",
			raw:     RawRequest{Description: "song\x00name", RequesterID: "user-1"},
			field:   "description",
			message: "contains control characters",
		},
		{
			name:    "invalid utf-8 in description",
			raw:     RawRequest{Description: "bad \xff\xfe text", RequesterID: "user-1"},
			field:   "description",
			message: "is not valid UTF-8",
		},
		{
			name:    "invalid utf-8 in lyrics",
			raw:     RawRequest{Description: "song", Lyrics: "verse\n\xc3(", RequesterID: "user-1"},
			field:   "lyrics",
			message: "is not valid UTF-8",
		},
		{
			name:    "control characters in lyrics",
			raw:     RawRequest{Description: "song", Lyrics: "line\x07bell", RequesterID: "user-1"},
			field:   "lyrics",
			message: "contains control characters",
		},
		{
			name:    "description too long",
			raw:     RawRequest{Description: strings.Repeat("a", 11), RequesterID: "user-1"},
			field:   "description",
			message: "exceeds 10 characters",
		},
		{
			name:    "lyrics too long",
			raw:     RawRequest{Lyrics: strings.Repeat("é", 11), RequesterID: "user-1"},
			field:   "lyrics",
			message: "exceeds 10 characters",
		},
	}

	n := NewRequestNormalizer(10)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(tt.raw)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.message, verr.Fields[tt.field])
		})
	}
}

func TestNormalize_LengthCountsRunes(t *testing.T) {
	n := NewRequestNormalizer(10)

	_, err := n.Normalize(RawRequest{Description: strings.Repeat("é", 10), RequesterID: "user-1"})
	assert.NoError(t, err)
}

func TestNormalize_LyricsAllowLineBreaks(t *testing.T) {
	n := NewRequestNormalizer(0)

	_, err := n.Normalize(RawRequest{Lyrics: "verse\r\n\tindented", RequesterID: "user-1"})
	assert.NoError(t, err)
}

func TestValidationError_MessageListsFields(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"lyrics": "contains control characters", "description": "is required"}}
	assert.Equal(t, "invalid generation request: description: is required; lyrics: contains control characters", err.Error())
}
