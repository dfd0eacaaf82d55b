package handlers

import (
	"errors"
	"net/http"

	"musicboxServer/backend/internal/broadcast"
	"musicboxServer/backend/internal/store"

	"github.com/gin-gonic/gin"
)

// statusFor 领域错误 -> HTTP 状态码
func statusFor(err error) int {
	var verr *broadcast.ValidationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, store.ErrEmptyTitle),
		errors.Is(err, store.ErrTrackOrderMismatch):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrPlaylistNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrPlaylistExists),
		errors.Is(err, broadcast.ErrOperationInFlight):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func isInFlight(err error) bool {
	return errors.Is(err, broadcast.ErrOperationInFlight)
}
