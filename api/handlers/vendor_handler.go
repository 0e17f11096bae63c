package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"example.com/backstage/services/firmware/internal/models"
	"example.com/backstage/services/firmware/internal/repository"
)

// VendorHandler handles vendor administration requests
type VendorHandler struct {
	vendors repository.VendorRepository
	log     *logrus.Logger
}

// NewVendorHandler creates a new VendorHandler instance
func NewVendorHandler(vendors repository.VendorRepository, log *logrus.Logger) *VendorHandler {
	return &VendorHandler{
		vendors: vendors,
		log:     log,
	}
}

// CreateVendor provisions a vendor together with its embargo remote
func (h *VendorHandler) CreateVendor(c *gin.Context) {
	var vendor models.Vendor
	if err := c.ShouldBindJSON(&vendor); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid vendor format",
		})
		return
	}
	if vendor.GroupID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Vendor group ID required",
		})
		return
	}

	if err := h.vendors.Create(c.Request.Context(), &vendor); err != nil {
		h.log.WithError(err).Error("Failed to create vendor")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create vendor",
		})
		return
	}
	c.JSON(http.StatusCreated, vendor)
}

// GetVendor returns a vendor by group ID with its affiliated ODM vendors
func (h *VendorHandler) GetVendor(c *gin.Context) {
	vendor, err := h.vendors.FindByGroupID(c.Request.Context(), c.Param("group_id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Vendor not found",
			})
			return
		}
		h.log.WithError(err).Error("Failed to get vendor")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get vendor",
		})
		return
	}

	odmIDs, err := h.vendors.ODMVendorIDs(c.Request.Context(), vendor.ID)
	if err != nil {
		h.log.WithError(err).Error("Failed to list vendor affiliations")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get vendor",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"vendor":         vendor,
		"odm_vendor_ids": odmIDs,
	})
}
