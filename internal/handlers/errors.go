package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"care-sync/internal/events"
)

// statusFor maps a coded chat error to an HTTP status.
func statusFor(err error) int {
	switch events.CodeOf(err) {
	case events.CodeBadRequest:
		return http.StatusBadRequest
	case events.CodeUnauthenticated, events.CodeAuthFailed:
		return http.StatusUnauthorized
	case events.CodeNotAMember:
		return http.StatusForbidden
	case events.CodePersistenceFailed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": events.PublicMessage(err), "code": events.CodeOf(err)})
}
