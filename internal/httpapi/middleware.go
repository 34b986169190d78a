package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"codeberg.org/hvlab/dischargectl/internal/errors"
	"codeberg.org/hvlab/dischargectl/internal/logger"
)

// requestLogger logs every request at debug level once the response is
// written.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("Request handled")
	}
}

// recovery converts panics into the standard error envelope instead of
// gin's default plain-text response.
func recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		err := errFactory.New(errors.ErrInternal).
			WithMessage(fmt.Sprintf("panic: %v", recovered))

		logger.ErrorWithCode(err).Msg("Handler panicked")

		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    string(errors.ErrInternal),
				Message: "internal error",
			},
		})
	})
}

// respondError writes the envelope for err with the mapped status.
func respondError(c *gin.Context, err error) {
	code := errors.CodeOf(err)
	if code == "" {
		code = errors.ErrInternal
	}

	c.AbortWithStatusJSON(statusFor(err), ErrorResponse{
		Error: ErrorDetail{
			Code:    string(code),
			Message: err.Error(),
		},
	})
}
