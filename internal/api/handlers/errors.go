package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printdesk/internal/archive"
	"github.com/orrn/printdesk/internal/core"
	"github.com/orrn/printdesk/internal/printer"
	"github.com/orrn/printdesk/internal/staging"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type errorMapping struct {
	err    error
	status int
	code   string
}

// Ordered: the first sentinel matched by errors.Is wins.
var errorMappings = []errorMapping{
	{core.ErrUnsupportedFormat, http.StatusUnsupportedMediaType, "unsupported_format"},
	{core.ErrFileTooLarge, http.StatusRequestEntityTooLarge, "file_too_large"},
	{core.ErrInvalidPageRange, http.StatusUnprocessableEntity, "invalid_page_range"},
	{core.ErrInvalidPrintSpec, http.StatusBadRequest, "invalid_print_spec"},
	{staging.ErrInvalidOwnerID, http.StatusBadRequest, "invalid_owner"},
	{core.ErrSignatureInvalid, http.StatusBadRequest, "signature_invalid"},
	{core.ErrPaymentIncomplete, http.StatusPaymentRequired, "payment_incomplete"},
	{core.ErrNotOwner, http.StatusForbidden, "forbidden"},
	{core.ErrJobNotFound, http.StatusNotFound, "not_found"},
	{archive.ErrArchiveNotFound, http.StatusNotFound, "not_found"},
	{printer.ErrPrinterNotFound, http.StatusNotFound, "not_found"},
	{core.ErrCancelInProcess, http.StatusConflict, "cancel_in_process"},
	{core.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{core.ErrVersionConflict, http.StatusConflict, "conflict"},
	{core.ErrStagedFileMissing, http.StatusUnprocessableEntity, "staged_file_missing"},
	{core.ErrMigrationFailed, http.StatusBadGateway, "migration_failed"},
	{core.ErrOrderFailed, http.StatusBadGateway, "order_failed"},
	{core.ErrSchedulerStopped, http.StatusServiceUnavailable, "unavailable"},
}

func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "Internal server error"
		_ = c.Error(err)
	}
	c.JSON(status, ErrorResponse{Error: code, Message: message})
}
