package handlers

import (
	"log/slog"
	"net/http"

	"github.com/geocoder89/accounthub/internal/apperr"
	"github.com/gin-gonic/gin"
)

type APIError struct {
	Message   string      `json:"message"`
	Code      string      `json:"code"`
	RequestID string      `json:"requestId,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

func requestIDFrom(ctx *gin.Context) string {
	v, ok := ctx.Get("request_id")

	if ok {
		s, ok := v.(string)
		if ok && s != "" {
			return s
		}
	}

	// fallback header
	return ctx.GetHeader("X-Request-Id")
}

func RespondError(ctx *gin.Context, status int, code, message string, details interface{}) {
	ctx.AbortWithStatusJSON(status, APIError{
		Message:   message,
		Code:      code,
		RequestID: requestIDFrom(ctx),
		Details:   details,
	})
}

func RespondBadRequest(ctx *gin.Context, message string, details interface{}) {
	RespondError(ctx, http.StatusBadRequest, apperr.KindBadRequest.String(), message, details)
}

// RespondErr maps an error kind onto its status. Internal errors are logged
// and answered with a generic message.
func RespondErr(ctx *gin.Context, log *slog.Logger, err error) {
	kind := apperr.KindOf(err)

	if kind == apperr.KindInternal {
		if log == nil {
			log = slog.Default()
		}
		log.ErrorContext(ctx.Request.Context(), "request failed",
			"route", ctx.FullPath(),
			"request_id", requestIDFrom(ctx),
			"err", err,
		)
		ctx.Error(err) //nolint:errcheck
	}

	RespondError(ctx, kind.HTTPStatus(), kind.String(), apperr.MessageOf(err), nil)
}
