package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// APIResponse is the envelope every endpoint answers with.
type APIResponse struct {
	Status  int         `json:"status" example:"200"`
	Message string      `json:"message" example:"OK"`
	Data    interface{} `json:"data,omitempty"`
}

func respond(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, APIResponse{Status: status, Message: http.StatusText(status), Data: data})
}

// SuccessResponse writes data with 200.
func SuccessResponse(c echo.Context, data interface{}) error {
	return respond(c, http.StatusOK, data)
}

// BadRequestResponse writes the validation failures with 400.
func BadRequestResponse(c echo.Context, errs []ValidationError) error {
	return respond(c, http.StatusBadRequest, errs)
}

// AppErrorResponse writes err with its own status. Errors that are not an
// AppError are served as a 500 without leaking their text.
func AppErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		appErr = InternalError(err)
	}
	return respond(c, appErr.Status, []*AppError{appErr})
}
