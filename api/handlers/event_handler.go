package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"example.com/backstage/services/firmware/api/middleware"
	"example.com/backstage/services/firmware/internal/models"
	"example.com/backstage/services/firmware/internal/repository"
)

const defaultEventLimit = 100

// EventHandler handles audit log requests
type EventHandler struct {
	events repository.EventRepository
	log    *logrus.Logger
}

// NewEventHandler creates a new EventHandler instance
func NewEventHandler(events repository.EventRepository, log *logrus.Logger) *EventHandler {
	return &EventHandler{
		events: events,
		log:    log,
	}
}

// ListEvents returns recent audit events. Administrators see the whole
// log; everyone else only their vendor's entries.
func (h *EventHandler) ListEvents(c *gin.Context) {
	limit := defaultEventLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid limit",
			})
			return
		}
		limit = n
	}

	apiKey := middleware.APIKeyFromContext(c)
	if apiKey == nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Authentication required",
		})
		return
	}

	var events []*models.Event
	var err error
	if apiKey.AuthorizationLevel >= models.SudoAuthLevel {
		events, err = h.events.ListRecent(c.Request.Context(), limit)
	} else {
		events, err = h.events.ListForVendor(c.Request.Context(), apiKey.VendorID, limit)
	}
	if err != nil {
		h.log.WithError(err).Error("Failed to list events")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list events",
		})
		return
	}
	c.JSON(http.StatusOK, events)
}
