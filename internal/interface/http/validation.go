package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/learnmatch/progression/internal/domain/progress"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST BODIES
// ══════════════════════════════════════════════════════════════════════════════

// awardXPRequest is the body of POST /users/{userID}/xp.
type awardXPRequest struct {
	Amount  int    `json:"amount" validate:"gte=0,lte=100000"`
	Reason  string `json:"reason" validate:"max=200"`
	EventID string `json:"event_id" validate:"omitempty,max=128"`
}

// learningEventRequest is the body of POST /users/{userID}/events/{kind}.
// Which fields matter depends on the kind.
type learningEventRequest struct {
	ResourceID string   `json:"resource_id" validate:"max=256"`
	PathID     string   `json:"path_id" validate:"max=256"`
	Percent    *float64 `json:"percent" validate:"omitempty,gte=0,lte=100"`
	EventID    string   `json:"event_id" validate:"omitempty,max=128"`
}

// userPath carries the user id from the route.
type userPath struct {
	UserID string `json:"user_id" validate:"required,max=128,printascii"`
}

// eventKinds maps URL slugs to learning event kinds.
var eventKinds = map[string]progress.EventKind{
	"video-progress":   progress.KindVideoProgress,
	"article-complete": progress.KindArticleComplete,
	"path-complete":    progress.KindPathComplete,
	"daily-login":      progress.KindDailyLogin,
	"pathway-opened":   progress.KindPathwayOpened,
}

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATOR
// ══════════════════════════════════════════════════════════════════════════════

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator returns the shared validator. It reports JSON field names.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return strings.ToLower(f.Name)
			}
			return name
		})
	})
	return validate
}

// FieldError describes one invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// validationError is returned by validateRequest.
type validationError struct {
	fields []FieldError
}

func (e *validationError) Error() string {
	messages := make([]string, 0, len(e.fields))
	for _, f := range e.fields {
		messages = append(messages, f.Message)
	}
	return strings.Join(messages, "; ")
}

func (e *validationError) apiError() *APIError {
	return &APIError{
		Code:    "validation_error",
		Message: e.Error(),
		Details: map[string]interface{}{"fields": e.fields},
	}
}

// validateRequest validates a request struct.
func validateRequest(v interface{}) *validationError {
	err := getValidator().Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &validationError{fields: []FieldError{{Field: "body", Tag: "invalid", Message: err.Error()}}}
	}

	out := make([]FieldError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Message: translateFieldError(fe),
		})
	}
	return &validationError{fields: out}
}

var messageTemplates = map[string]string{
	"required":   "%s is required",
	"printascii": "%s must contain printable ASCII characters only",
}

var messageWithParam = map[string]string{
	"gte": "%s must be greater than or equal to %s",
	"lte": "%s must be less than or equal to %s",
	"max": "%s must be at most %s characters",
}

func translateFieldError(fe validator.FieldError) string {
	if tmpl, ok := messageTemplates[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, fe.Field())
	}
	if tmpl, ok := messageWithParam[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
}

// ══════════════════════════════════════════════════════════════════════════════
// BODY DECODING
// ══════════════════════════════════════════════════════════════════════════════

var errBodyTooLarge = errors.New("request body too large")

// decodeBody reads an optional JSON body into dst. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst interface{}) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	default:
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errBodyTooLarge
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
}
