package httpapi

import (
	"errors"
	"net/http"

	"blood-broadcast/internal/broadcast"
	"blood-broadcast/internal/reporting"
	"blood-broadcast/pkg/logger"

	"github.com/gin-gonic/gin"
)

// writeError maps domain errors to HTTP statuses. Unknown errors are logged
// and reported as 500 without detail.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, broadcast.ErrCallNotFound), errors.Is(err, broadcast.ErrRequesterNotFound):
		status = http.StatusNotFound
	case errors.Is(err, broadcast.ErrCallInactive),
		errors.Is(err, broadcast.ErrRingExpired),
		errors.Is(err, broadcast.ErrInvalidTransition),
		errors.Is(err, broadcast.ErrNoAcceptedDonors):
		status = http.StatusConflict
	case errors.Is(err, broadcast.ErrNotAParticipant), errors.Is(err, broadcast.ErrNotRequester):
		status = http.StatusForbidden
	case errors.Is(err, broadcast.ErrThrottled):
		status = http.StatusTooManyRequests
	case errors.Is(err, broadcast.ErrAlreadyResponded),
		errors.Is(err, broadcast.ErrInvalidArgument),
		errors.Is(err, broadcast.ErrInvalidDecision),
		errors.Is(err, reporting.ErrInvalidRequest):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
