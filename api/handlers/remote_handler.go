package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"example.com/backstage/services/firmware/internal/repository"
)

// RemoteHandler handles metadata remote administration requests
type RemoteHandler struct {
	remotes repository.RemoteRepository
	log     *logrus.Logger
}

// NewRemoteHandler creates a new RemoteHandler instance
func NewRemoteHandler(remotes repository.RemoteRepository, log *logrus.Logger) *RemoteHandler {
	return &RemoteHandler{
		remotes: remotes,
		log:     log,
	}
}

// ListRemotes handles listing all remotes
func (h *RemoteHandler) ListRemotes(c *gin.Context) {
	remotes, err := h.remotes.ListAll(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("Failed to list remotes")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list remotes",
		})
		return
	}
	c.JSON(http.StatusOK, remotes)
}

// GetRemote handles remote retrieval
func (h *RemoteHandler) GetRemote(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid remote ID",
		})
		return
	}

	remote, err := h.remotes.FindByID(c.Request.Context(), uint(id))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Remote not found",
			})
			return
		}
		h.log.WithError(err).Error("Failed to get remote")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get remote",
		})
		return
	}
	c.JSON(http.StatusOK, remote)
}

// RebuildRemote flags a remote so the next worker cycle regenerates
// its catalog
func (h *RemoteHandler) RebuildRemote(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid remote ID",
		})
		return
	}

	remote, err := h.remotes.FindByID(c.Request.Context(), uint(id))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Remote not found",
			})
			return
		}
		h.log.WithError(err).Error("Failed to get remote")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get remote",
		})
		return
	}

	if err := h.remotes.MarkDirty(c.Request.Context(), remote.ID); err != nil {
		h.log.WithError(err).Error("Failed to flag remote for rebuild")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to flag remote for rebuild",
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "rebuild scheduled"})
}
