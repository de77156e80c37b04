package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"estorage/internal/errs"
	"estorage/internal/http/middleware"
)

// errorPayload defines the standardized error response body.
type errorPayload struct {
	RequestID string        `json:"request_id"`
	Error     errorEnvelope `json:"error"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError writes a standardized JSON error response without leaking internal errors.
//
// Parameters:
// - status: HTTP status code to return
// - code: machine-readable short error code (e.g., "INVALID_NAME", "NOT_FOUND", "INTERNAL_ERROR")
// - message: human-readable safe message (no internal details)
func writeError(c *fiber.Ctx, status int, code, message string) error {
	res := errorPayload{
		RequestID: middleware.RequestIDFrom(c),
		Error: errorEnvelope{
			Code:    code,
			Message: message,
		},
	}
	return c.Status(status).JSON(res)
}

var errorCodes = []struct {
	kind   error
	status int
	code   string
}{
	{errs.ErrInvalidIdentifier, fiber.StatusBadRequest, "INVALID_NAME"},
	{errs.ErrInvalidArchive, fiber.StatusBadRequest, "INVALID_ARCHIVE"},
	{errs.ErrMissingPrimaryFile, fiber.StatusBadRequest, "MISSING_PRIMARY_FILE"},
	{errs.ErrStructureInvalid, fiber.StatusBadRequest, "STRUCTURE_INVALID"},
	{errs.ErrUnsafeEntry, fiber.StatusBadRequest, "UNSAFE_ENTRY"},
	{errs.ErrPathTraversal, fiber.StatusBadRequest, "PATH_TRAVERSAL"},
	{errs.ErrNotFound, fiber.StatusNotFound, "NOT_FOUND"},
}

// writeServiceError maps the store error taxonomy to status codes. Messages
// of taxonomy errors only echo quoted client input; anything else is hidden.
func writeServiceError(c *fiber.Ctx, err error) error {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.kind) {
			return writeError(c, ec.status, ec.code, err.Error())
		}
	}
	return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
}

// ErrorHandler returns a Fiber global error handler that standardizes error responses.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			status = e.Code
		}

		switch status {
		case fiber.StatusBadRequest:
			return writeError(c, status, "BAD_REQUEST", "bad request")
		case fiber.StatusNotFound:
			return writeError(c, status, "NOT_FOUND", "resource not found")
		case fiber.StatusMethodNotAllowed:
			return writeError(c, status, "METHOD_NOT_ALLOWED", "method not allowed")
		case fiber.StatusRequestEntityTooLarge:
			return writeError(c, status, "PAYLOAD_TOO_LARGE", "upload exceeds the configured size limit")
		default:
			return writeError(c, status, "INTERNAL_ERROR", "internal server error")
		}
	}
}
