package generation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/makeasinger/orchestrator/internal/model"
)

// DefaultMaxTextLength bounds description and lyrics, counted in runes
const DefaultMaxTextLength = 3000

// RawRequest is user input as received from the UI layer
type RawRequest struct {
	Description  string `json:"description" validate:"utf8,nocontrol"`
	Lyrics       string `json:"lyrics" validate:"utf8,nocontrol_multiline"`
	Instrumental bool   `json:"instrumental"`
	StylePreset  string `json:"stylePreset" validate:"omitempty,oneof=default professional cinematic electronic acoustic orchestral experimental"`
	RequesterID  string `json:"requesterId" validate:"required,max=128,utf8,nocontrol"`
}

// RequestNormalizer validates and shapes raw input into a GenerationRequest.
// It has no side effects and is safe for concurrent use.
type RequestNormalizer struct {
	validate  *validator.Validate
	maxLength int
}

// NewRequestNormalizer creates a normalizer. maxLength <= 0 selects DefaultMaxTextLength.
func NewRequestNormalizer(maxLength int) *RequestNormalizer {
	if maxLength <= 0 {
		maxLength = DefaultMaxTextLength
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("utf8", func(fl validator.FieldLevel) bool {
		return utf8.ValidString(fl.Field().String())
	})
	_ = v.RegisterValidation("nocontrol", func(fl validator.FieldLevel) bool {
		return !hasControl(fl.Field().String(), false)
	})
	_ = v.RegisterValidation("nocontrol_multiline", func(fl validator.FieldLevel) bool {
		return !hasControl(fl.Field().String(), true)
	})

	n := &RequestNormalizer{validate: v, maxLength: maxLength}
	v.RegisterStructValidation(n.validateContent, RawRequest{})
	return n
}

// Normalize returns the canonical request or a *ValidationError.
func (n *RequestNormalizer) Normalize(raw RawRequest) (model.GenerationRequest, error) {
	in := RawRequest{
		Description:  strings.TrimSpace(raw.Description),
		Lyrics:       strings.TrimSpace(raw.Lyrics),
		Instrumental: raw.Instrumental,
		StylePreset:  strings.ToLower(strings.TrimSpace(raw.StylePreset)),
		RequesterID:  strings.TrimSpace(raw.RequesterID),
	}

	if err := n.validate.Struct(&in); err != nil {
		return model.GenerationRequest{}, toValidationError(err)
	}

	preset := model.StylePreset(in.StylePreset)
	if preset == "" {
		preset = model.StylePresetDefault
	}

	return model.GenerationRequest{
		Description:  in.Description,
		Lyrics:       in.Lyrics,
		Instrumental: in.Instrumental,
		StylePreset:  preset,
		RequesterID:  in.RequesterID,
	}, nil
}

// validateContent enforces the instrumental/lyrics rule and length limits
func (n *RequestNormalizer) validateContent(sl validator.StructLevel) {
	req := sl.Current().Interface().(RawRequest)

	if req.Instrumental {
		if req.Description == "" {
			sl.ReportError(req.Description, "description", "Description", "required_for_instrumental", "")
		}
	} else if req.Description == "" && req.Lyrics == "" {
		sl.ReportError(req.Description, "description", "Description", "description_or_lyrics", "")
	}

	max := fmt.Sprint(n.maxLength)
	if utf8.RuneCountInString(req.Description) > n.maxLength {
		sl.ReportError(req.Description, "description", "Description", "max", max)
	}
	if utf8.RuneCountInString(req.Lyrics) > n.maxLength {
		sl.ReportError(req.Lyrics, "lyrics", "Lyrics", "max", max)
	}
}

func hasControl(s string, multiline bool) bool {
	for _, r := range s {
		if multiline && (r == '\n' || r == '\r' || r == '\t') {
			continue
		}
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}

func toValidationError(err error) *ValidationError {
	verr := &ValidationError{Fields: make(map[string]string)}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.Fields["request"] = err.Error()
		return verr
	}

	for _, fe := range fieldErrs {
		name := fe.Field()
		if _, seen := verr.Fields[name]; seen {
			continue
		}
		verr.Fields[name] = describeTag(fe)
	}
	return verr
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_for_instrumental":
		return "a style prompt is required for instrumental tracks"
	case "description_or_lyrics":
		return "a description or lyrics are required"
	case "utf8":
		return "is not valid UTF-8"
	case "nocontrol", "nocontrol_multiline":
		return "contains control characters"
	case "max":
		return "exceeds " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	}
	return fe.Tag()
}
