package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/security-audit/services"
	"github.com/upb/security-audit/utils"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)

	var writeErr error
	switch {
	case services.IsNotFoundError(err):
		writeErr = utils.WriteNotFound(w, err.Error())

	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, err.Error(), validationDetails(err, details))

	case services.IsGuardrailError(err):
		writeErr = utils.WriteUnprocessable(w, err.Error(), details)

	case services.IsUnauthorizedError(err):
		writeErr = utils.WriteUnauthorized(w, err.Error())

	case services.IsForbiddenError(err):
		writeErr = utils.WriteForbidden(w, err.Error())

	case services.IsConflictError(err):
		writeErr = utils.WriteConflict(w, err.Error(), details)

	case services.IsUnavailableError(err), services.IsPersistenceError(err):
		logger.Error("security event store unavailable", zap.Error(err))
		writeErr = utils.WriteServiceUnavailable(w, "Security event store unavailable, retry later")

	case services.IsSerializationError(err), services.IsInternalError(err):
		// never echo internals such as panic stacks
		logger.Error("internal server error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An internal error occurred")

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w, "An unexpected error occurred")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		if err := utils.WriteBadRequest(w, "Validation failed", validationDetails(err, nil)); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}

// validationDetails merges per-field reasons into the error details
func validationDetails(err error, details map[string]interface{}) map[string]interface{} {
	fields := utils.GetValidationFields(err)
	if len(fields) == 0 {
		return details
	}
	out := make(map[string]interface{}, len(details)+1)
	for k, v := range details {
		out[k] = v
	}
	out["fields"] = fields
	return out
}
