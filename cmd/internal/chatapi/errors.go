package chatapi

import (
	"errors"
	"net/http"
	"strconv"

	"haven/cmd/internal/conversation"
	"haven/cmd/internal/ratelimit"

	"github.com/go-playground/validator/v10"
)

// writeServiceError maps domain errors to HTTP. Anything unrecognised is
// logged under op and reported as 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	var (
		ve *conversation.ValidationError
		ex *ratelimit.ExceededError
	)
	switch {
	case errors.As(err, &ex):
		h.metrics.RateLimited(ex.Policy)
		writeRateLimited(w, ex)
	case errors.As(err, &ve):
		msg := ve.Error()
		if ve.Reason != nil {
			msg = ve.Reason.Error()
		}
		writeError(w, http.StatusBadRequest, "validation_failed", msg)
	case errors.Is(err, conversation.ErrPermission):
		writeError(w, http.StatusForbidden, "forbidden", "not allowed")
	case conversation.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		h.log.Error("chatapi."+op+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func writeRateLimited(w http.ResponseWriter, ex *ratelimit.ExceededError) {
	w.Header().Set("Retry-After", strconv.Itoa(ex.RetryAfterSeconds()))
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
}

// invalidRequest reports the first failing field of a validator error.
func invalidRequest(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		f := verrs[0]
		writeError(w, http.StatusBadRequest, "invalid_request", f.Field()+" failed "+f.Tag())
		return
	}
	writeError(w, http.StatusBadRequest, "invalid_request", "invalid request")
}
