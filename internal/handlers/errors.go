package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/libroteca/apiserver/internal/apperr"
	"github.com/sirupsen/logrus"
)

// writeAppError renders err through the single error channel of the API.
// Unhandled errors are logged in full and reach the client as an opaque
// message.
func writeAppError(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, err error) {
	appErr := apperr.From(err)
	entry := log.WithFields(logrus.Fields{
		"request_id": middleware.GetReqID(r.Context()),
		"kind":       appErr.Kind.String(),
	})

	switch appErr.Kind {
	case apperr.KindInternal:
		entry.WithError(appErr.Err).Error("unhandled error")
		writeJSON(w, appErr.Kind.Status(), MessageResponse{Message: apperr.InternalMessage})
	case apperr.KindAuth:
		entry.WithError(appErr.Err).Warn("authentication rejected")
		writeJSON(w, appErr.Kind.Status(), MessageResponse{Message: apperr.AuthMessage})
	case apperr.KindValidation, apperr.KindFlow, apperr.KindUnique:
		entry.Warn(appErr.Message)
		writeJSON(w, appErr.Kind.Status(), MessageResponse{Message: appErr.Message, Errors: appErr.Details})
	default:
		entry.WithError(appErr).Error("unclassified error")
		writeJSON(w, http.StatusInternalServerError, MessageResponse{Message: apperr.InternalMessage})
	}
}
