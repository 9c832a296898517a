package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/jjudge-oj/accounts/internal/apperr"
)

const msgUnexpected = "An unexpected error occurred"

// writeServiceError is the single mapping from service errors to envelopes.
// Unclassified and internal errors are logged and never shown to clients.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind == apperr.KindInternal {
		logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, msgUnexpected)
		return
	}

	switch appErr.Kind {
	case apperr.KindValidation:
		writeErrorData(w, appErr.Kind.Status(), appErr.Message, appErr.Fields)
	case apperr.KindAuthentication:
		Unauthorized(w, appErr.Message)
	default:
		writeError(w, appErr.Kind.Status(), appErr.Message)
	}
}

func writeValidation(w http.ResponseWriter, fields map[string]string) {
	writeErrorData(w, http.StatusBadRequest, "Validation failed", fields)
}
