package httpadapter

import (
	"errors"
	"net/http"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/observability/logging"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/observability/metrics"
)

const unansweredMessage = "답변을 생성하지 못했습니다. 잠시 후 다시 시도해 주세요."

func mapErrorToHTTPStatus(err error) int {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrEmbedding):
		return http.StatusBadGateway
	case domain.IsKind(err, domain.ErrGenerationTimeout):
		return http.StatusGatewayTimeout
	case domain.IsKind(err, domain.ErrRetrieval),
		domain.IsKind(err, domain.ErrGenerationUnavailable),
		domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error    string `json:"error"`
	Code     string `json:"code"`
	Answered *bool  `json:"answered,omitempty"`
	Message  string `json:"message,omitempty"`
}

// newErrorResponse marks generation failures as unanswered so clients never
// mistake the payload for an answer.
func newErrorResponse(err error) errorResponse {
	resp := errorResponse{
		Error: err.Error(),
		Code:  metrics.ErrorKind(err),
	}
	if domain.IsGenerationFailure(err) {
		answered := false
		resp.Answered = &answered
		resp.Message = unansweredMessage
	}
	return resp
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request_failed", "status", status, "error", err)
	}
	writeJSON(w, status, newErrorResponse(err))
}
