package apperrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kinds. Every AppError unwraps to exactly one of these.
var (
	ErrAuthExpired       = errors.New("auth expired")
	ErrRetryableMedia    = errors.New("media still processing")
	ErrNonRetryable      = errors.New("permanent failure")
	ErrTransientProvider = errors.New("transient provider error")
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrConflict          = errors.New("conflict")
	ErrUnsupported       = errors.New("unsupported")
	ErrInternal          = errors.New("internal error")
)

// ProviderError is the normalized shape of a third-party error body.
type ProviderError struct {
	Title      string `json:"title,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Code       string `json:"code,omitempty"`
	HTTPStatus int    `json:"http_status"`
}

func (p *ProviderError) String() string {
	parts := make([]string, 0, 3)
	if p.Title != "" {
		parts = append(parts, p.Title)
	}
	if p.Detail != "" {
		parts = append(parts, p.Detail)
	}
	if p.Code != "" {
		parts = append(parts, "code="+p.Code)
	}
	return fmt.Sprintf("status=%d %s", p.HTTPStatus, strings.Join(parts, " "))
}

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Provider *ProviderError `json:"provider,omitempty"`
	Status   int            `json:"-"`
	Kind     error          `json:"-"`
	Err      error          `json:"-"`
}

func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Provider != nil {
		msg += " (" + e.Provider.String() + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AppError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// WithProvider attaches a parsed provider error.
func (e *AppError) WithProvider(p *ProviderError) *AppError {
	e.Provider = p
	return e
}

func AuthExpired(message string, err error) *AppError {
	return &AppError{Code: "AUTH_EXPIRED", Message: message, Status: http.StatusUnauthorized, Kind: ErrAuthExpired, Err: err}
}

func RetryableMedia(message string, err error) *AppError {
	return &AppError{Code: "MEDIA_PROCESSING", Message: message, Status: http.StatusAccepted, Kind: ErrRetryableMedia, Err: err}
}

func NonRetryable(message string, err error) *AppError {
	return &AppError{Code: "PERMANENT_FAILURE", Message: message, Status: http.StatusUnprocessableEntity, Kind: ErrNonRetryable, Err: err}
}

func TransientProvider(message string, err error) *AppError {
	return &AppError{Code: "PROVIDER_UNAVAILABLE", Message: message, Status: http.StatusBadGateway, Kind: ErrTransientProvider, Err: err}
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Kind:    ErrNotFound,
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{Code: "INVALID_INPUT", Message: message, Status: http.StatusBadRequest, Kind: ErrInvalidInput}
}

// Conflict creates a 409 error.
func Conflict(message string) *AppError {
	return &AppError{Code: "CONFLICT", Message: message, Status: http.StatusConflict, Kind: ErrConflict}
}

func Unsupported(message string) *AppError {
	return &AppError{Code: "UNSUPPORTED", Message: message, Status: http.StatusNotImplemented, Kind: ErrUnsupported}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{Code: "INTERNAL_ERROR", Message: "an internal error occurred", Status: http.StatusInternalServerError, Kind: ErrInternal, Err: err}
}

// IsKind reports whether err carries the given kind sentinel.
func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// ParseProviderError extracts {title/detail, code} from a JSON error body.
// Recognized shapes: {title, detail, type}, {error, error_description},
// {errors: [{message, code}]} and {message, code}. Unknown bodies keep only
// the status.
func ParseProviderError(status int, body []byte) *ProviderError {
	p := &ProviderError{HTTPStatus: status}

	var raw struct {
		Title            string `json:"title"`
		Detail           string `json:"detail"`
		Type             string `json:"type"`
		Error            any    `json:"error"`
		ErrorDescription string `json:"error_description"`
		Message          string `json:"message"`
		Code             any    `json:"code"`
		Errors           []struct {
			Message string `json:"message"`
			Code    any    `json:"code"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return p
	}

	switch {
	case raw.Title != "" || raw.Detail != "":
		p.Title, p.Detail, p.Code = raw.Title, raw.Detail, raw.Type
	case raw.ErrorDescription != "":
		p.Title = fmt.Sprint(raw.Error)
		p.Detail = raw.ErrorDescription
		p.Code = fmt.Sprint(raw.Error)
	case len(raw.Errors) > 0:
		p.Detail = raw.Errors[0].Message
		if raw.Errors[0].Code != nil {
			p.Code = fmt.Sprint(raw.Errors[0].Code)
		}
	case raw.Message != "":
		p.Detail = raw.Message
		if raw.Code != nil {
			p.Code = fmt.Sprint(raw.Code)
		}
	case raw.Error != nil:
		p.Title = fmt.Sprint(raw.Error)
	}
	return p
}
