package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

// Error is a typed application error with a stable, greppable code.
// Upstream failures carry the provider status and a truncated body.
type Error struct {
	Code    string
	Message string
	Status  int
	Body    string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Error codes
const (
	CodeConfiguration        = "CONFIGURATION_ERROR"
	CodeDownload             = "DOWNLOAD_ERROR"
	CodeTranscriptionService = "TRANSCRIPTION_SERVICE_ERROR"
	CodeOAuth                = "OAUTH_ERROR"
	CodeCallHistoryFetch     = "CALL_HISTORY_FETCH_ERROR"
	CodeConflict             = "CONFLICT"
	CodeAlreadyUsed          = "ALREADY_USED"
	CodeExpired              = "EXPIRED"
	CodeNotFound             = "NOT_FOUND"
)

// MaxBodyLen caps upstream response bodies kept on errors.
const MaxBodyLen = 2000

func NewConfigurationError(msg string) error {
	return &Error{Code: CodeConfiguration, Message: msg}
}

// NewDownloadError records a failed audio fetch.
func NewDownloadError(url string, status int, err error) error {
	return &Error{
		Code:    CodeDownload,
		Message: fmt.Sprintf("download %s failed", redactURL(url)),
		Status:  status,
		Err:     err,
	}
}

func NewTranscriptionServiceError(status int, body string) error {
	return &Error{
		Code:    CodeTranscriptionService,
		Message: "transcription service returned an error",
		Status:  status,
		Body:    Truncate(body, MaxBodyLen),
	}
}

// NewOAuthError keeps the provider's error and error_description.
func NewOAuthError(status int, providerErr, description string) error {
	msg := "token request rejected"
	if providerErr != "" {
		msg = fmt.Sprintf("%s: %s", msg, providerErr)
	}
	return &Error{
		Code:    CodeOAuth,
		Message: msg,
		Status:  status,
		Body:    Truncate(description, MaxBodyLen),
	}
}

// NewCallHistoryFetchError covers both a non-success status and a body
// that is not JSON; kind tells them apart ("status" or "decode").
func NewCallHistoryFetchError(kind string, status int, body string, err error) error {
	return &Error{
		Code:    CodeCallHistoryFetch,
		Message: fmt.Sprintf("call history fetch failed (%s)", kind),
		Status:  status,
		Body:    Truncate(body, MaxBodyLen),
		Err:     err,
	}
}

func NewConflictError(msg string) error {
	return &Error{Code: CodeConflict, Message: msg}
}

func NewAlreadyUsedError(msg string) error {
	return &Error{Code: CodeAlreadyUsed, Message: msg}
}

func NewExpiredError(msg string) error {
	return &Error{Code: CodeExpired, Message: msg}
}

func NewNotFoundError(resource string) error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s not found", resource)}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// HTTPStatus maps an error to the status code the API should answer with.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeAlreadyUsed:
		return http.StatusConflict
	case CodeExpired:
		return http.StatusGone
	case CodeConfiguration:
		return http.StatusServiceUnavailable
	case CodeDownload, CodeTranscriptionService, CodeOAuth, CodeCallHistoryFetch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Truncate cuts s to at most n bytes on a rune boundary, marking the cut.
// The result is always valid UTF-8.
func Truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "...(truncated)"
}

func redactURL(u string) string {
	base, _, _ := strings.Cut(u, "?")
	return base
}
