package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"laundry-booking-backend/internal/assets"
	"laundry-booking-backend/internal/auth"
	"laundry-booking-backend/internal/orders"
	"laundry-booking-backend/internal/otp"
	"laundry-booking-backend/internal/store"
)

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{store.ErrNotFound, http.StatusNotFound, "not_found"},
	{store.ErrDuplicateID, http.StatusConflict, "duplicate_id"},
	{auth.ErrEmailTaken, http.StatusConflict, "email_taken"},
	{orders.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{orders.ErrLocked, http.StatusConflict, "order_locked"},
	{orders.ErrAuditFailed, http.StatusInternalServerError, "audit_failure"},
	{assets.ErrUpstreamUnavailable, http.StatusServiceUnavailable, "upstream_unavailable"},
	{auth.ErrExternalDisabled, http.StatusServiceUnavailable, "upstream_unavailable"},
	{otp.ErrDeliveryFailed, http.StatusServiceUnavailable, "upstream_unavailable"},
	{orders.ErrInvalidItems, http.StatusBadRequest, "invalid_request"},
	{auth.ErrInvalidEmail, http.StatusBadRequest, "invalid_request"},
	{auth.ErrWeakPassword, http.StatusBadRequest, "invalid_request"},
	{assets.ErrUnsupportedType, http.StatusBadRequest, "invalid_request"},
}

// respondError writes the stable status and code for err. Unmapped errors
// are logged and reported as internal.
func respondError(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			if m.status >= http.StatusInternalServerError {
				log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
			}
			c.AbortWithStatusJSON(m.status, gin.H{"error": err.Error(), "code": m.code})
			return
		}
	}
	log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "internal"})
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": message, "code": "invalid_request"})
}
