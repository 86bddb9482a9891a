// Package handlers implements the gin handlers of the HTTP surface.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/GradeSim/pkg/errors"
)

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusFor maps the innermost error code of err to an HTTP status.
// Configuration errors are the caller's fault; numeric degeneracy and
// sampler exhaustion mean the request was valid but cannot be computed.
func statusFor(err error) (int, errors.ErrorCode) {
	code := errors.RootCode(err)
	switch code {
	case errors.ErrCodeConfiguration, errors.CodeInvalidParam, errors.ErrCodeValidation:
		return http.StatusBadRequest, code
	case errors.ErrCodeNumericDegeneracy, errors.ErrCodeExhaustion:
		return http.StatusUnprocessableEntity, code
	case errors.CodeNotFound:
		return http.StatusNotFound, code
	}
	return http.StatusInternalServerError, errors.CodeInternal
}

// writeAppError maps application errors to a status and an ErrorResponse.
// Internal errors are masked.
func writeAppError(c *gin.Context, err error) {
	status, code := statusFor(err)
	_ = c.Error(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Code: code.String(), Message: msg})
}

// bindJSON decodes the body over dst, which holds the defaults.  An empty
// body keeps them.
func bindJSON(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
			Code:    errors.CodeInvalidParam.String(),
			Message: "invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}
