package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"xoracle/internal/domain"
	"xoracle/internal/infrastructure/auth"
)

// ErrorResponse 统一错误响应
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errBadRequest = errors.New("bad request")

// statusFor 账本错误到 HTTP 状态码的映射
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden, "UNAUTHORIZED"
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "TOKEN_INVALID"
	case errors.Is(err, domain.ErrNoPriceSet):
		return http.StatusNotFound, "NO_PRICE_SET"
	case errors.Is(err, domain.ErrStaleData):
		return http.StatusServiceUnavailable, "STALE_DATA"
	case errors.Is(err, domain.ErrIndexOutOfRange):
		return http.StatusRequestedRangeNotSatisfiable, "INDEX_OUT_OF_RANGE"
	case errors.Is(err, domain.ErrUpstreamCallFailed):
		return http.StatusBadGateway, "UPSTREAM_CALL_FAILED"
	case errors.Is(err, domain.ErrInvalidOwner):
		return http.StatusBadRequest, "INVALID_OWNER"
	case errors.Is(err, domain.ErrInvalidRole):
		return http.StatusBadRequest, "INVALID_ROLE"
	case errors.Is(err, auth.ErrEmptyMember):
		return http.StatusBadRequest, "INVALID_MEMBER"
	case errors.Is(err, domain.ErrLastAdmin):
		return http.StatusConflict, "LAST_ADMIN"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "BAD_REQUEST"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func writeError(c *gin.Context, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	}
	abort(c, status, code, msg)
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg, Code: code})
}
