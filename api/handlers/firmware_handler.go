package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"example.com/backstage/services/firmware/api/middleware"
	"example.com/backstage/services/firmware/internal/appstream"
	"example.com/backstage/services/firmware/internal/models"
	"example.com/backstage/services/firmware/internal/repository"
	"example.com/backstage/services/firmware/internal/service"
)

// FirmwareHandler handles firmware upload and lifecycle requests
type FirmwareHandler struct {
	uploads  service.UploadService
	firmware service.FirmwareService
	reports  repository.ReportRepository
	log      *logrus.Logger
}

// NewFirmwareHandler creates a new FirmwareHandler instance
func NewFirmwareHandler(uploads service.UploadService, firmware service.FirmwareService,
	reports repository.ReportRepository, log *logrus.Logger) *FirmwareHandler {
	return &FirmwareHandler{
		uploads:  uploads,
		firmware: firmware,
		reports:  reports,
		log:      log,
	}
}

// Upload handles a firmware archive upload from vendor tooling
func (h *FirmwareHandler) Upload(c *gin.Context) {
	user := middleware.UserFromContext(c)
	vendor := middleware.VendorFromContext(c)
	if user == nil || vendor == nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Authentication required",
		})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "No file in multipart/form-data",
		})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Failed to read upload",
		})
		return
	}

	fw, err := h.uploads.ProcessUpload(c.Request.Context(), header.Filename, data, user, vendor)
	if err != nil {
		h.uploadError(c, err)
		return
	}
	c.JSON(http.StatusCreated, fw)
}

// uploadError maps upload failures to responses the vendor can act on
func (h *FirmwareHandler) uploadError(c *gin.Context, err error) {
	var notSupported *service.FileNotSupportedError
	var invalid *appstream.ErrInvalid
	switch {
	case errors.Is(err, service.ErrFileTooSmall),
		errors.Is(err, service.ErrFileTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case errors.As(err, &notSupported):
		c.JSON(http.StatusBadRequest, gin.H{"error": notSupported.Reason})
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": invalid.Error()})
	case errors.Is(err, service.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.log.WithError(err).Error("Failed to process upload")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to process upload",
		})
	}
}

// GetFirmware handles firmware information retrieval
func (h *FirmwareHandler) GetFirmware(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid firmware ID",
		})
		return
	}

	fw, err := h.firmware.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Firmware not found",
			})
			return
		}
		h.log.WithError(err).Error("Failed to get firmware")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get firmware",
		})
		return
	}
	c.JSON(http.StatusOK, fw)
}

// ListFirmware handles listing all firmware
func (h *FirmwareHandler) ListFirmware(c *gin.Context) {
	firmware, err := h.firmware.List(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("Failed to list firmware")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list firmware",
		})
		return
	}
	c.JSON(http.StatusOK, firmware)
}

// Promote handles moving firmware to another remote
func (h *FirmwareHandler) Promote(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid firmware ID",
		})
		return
	}

	var req struct {
		Target string `json:"target" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid promote request",
		})
		return
	}

	fw, err := h.firmware.Promote(c.Request.Context(), id, req.Target, middleware.UserFromContext(c))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Firmware not found"})
		case errors.Is(err, service.ErrInvalidTarget):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.log.WithError(err).Error("Failed to promote firmware")
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to promote firmware",
			})
		}
		return
	}
	c.JSON(http.StatusOK, fw)
}

// DeleteFirmware handles moving firmware to the deleted remote
func (h *FirmwareHandler) DeleteFirmware(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid firmware ID",
		})
		return
	}

	if err := h.firmware.Delete(c.Request.Context(), id, middleware.UserFromContext(c)); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Firmware not found"})
		case errors.Is(err, service.ErrAlreadyDeleted):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			h.log.WithError(err).Error("Failed to delete firmware")
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to delete firmware",
			})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// UndeleteFirmware handles restoring firmware to the vendor embargo remote
func (h *FirmwareHandler) UndeleteFirmware(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid firmware ID",
		})
		return
	}

	if err := h.firmware.Undelete(c.Request.Context(), id, middleware.UserFromContext(c)); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Firmware not found"})
		case errors.Is(err, service.ErrNotDeleted):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			h.log.WithError(err).Error("Failed to undelete firmware")
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to undelete firmware",
			})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "restored"})
}

// ReportStats returns live report counts for one firmware, unlike the
// rolled-up counters on the firmware record itself
func (h *FirmwareHandler) ReportStats(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid firmware ID",
		})
		return
	}

	fw, err := h.firmware.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Firmware not found",
			})
			return
		}
		h.log.WithError(err).Error("Failed to get firmware")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get firmware",
		})
		return
	}

	stats := gin.H{}
	for name, state := range map[string]models.UpdateState{
		"pending": models.UpdateStatePending,
		"success": models.UpdateStateSuccess,
		"failed":  models.UpdateStateFailed,
	} {
		count, err := h.reports.CountForFirmware(c.Request.Context(), fw.ID, state)
		if err != nil {
			h.log.WithError(err).Error("Failed to count reports")
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to count reports",
			})
			return
		}
		stats[name] = count
	}
	c.JSON(http.StatusOK, stats)
}

func parseID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
