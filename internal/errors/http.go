// Package errors renders failures as the JSON error envelope used by the HTTP
// binding.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/3leaps/bucketview/pkg/batch"
	"github.com/3leaps/bucketview/pkg/output"
)

// Envelope codes that do not come from the core error taxonomy.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeRequestTooLarge    = "REQUEST_TOO_LARGE"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// ErrBadRequest marks malformed request bodies and parameters.
var ErrBadRequest = stderrors.New("bad request")

// HTTPErrorResponse is the body of every non-2xx response.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// RespondWithError classifies err and writes the matching status and
// envelope.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := Classify(err)
	WriteError(w, r, status, code, err.Error(), nil)
}

// WriteError writes an envelope with an explicit status and code.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	body := HTTPErrorResponse{Error: HTTPError{Code: code, Message: message, Details: details}}
	if r != nil {
		body.Error.RequestID = chimw.GetReqID(r.Context())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Classify maps err to an HTTP status and envelope code.
func Classify(err error) (int, string) {
	if stderrors.Is(err, ErrBadRequest) {
		return http.StatusBadRequest, CodeBadRequest
	}
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, CodeRequestTooLarge
	}

	code := batch.ClassifyError(err)
	switch code {
	case output.ErrCodeInvalidKey, output.ErrCodeInvalidPath:
		return http.StatusBadRequest, code
	case output.ErrCodeBucketNotFound, output.ErrCodeNotFound:
		return http.StatusNotFound, code
	case output.ErrCodeFolderNotEmpty, output.ErrCodeSelfCopyConflict:
		return http.StatusConflict, code
	case output.ErrCodeAccessDenied:
		return http.StatusForbidden, code
	case output.ErrCodeThrottled, output.ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable, code
	case output.ErrCodeTimeout:
		return http.StatusGatewayTimeout, code
	default:
		return http.StatusInternalServerError, output.ErrCodeInternal
	}
}
