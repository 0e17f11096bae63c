package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"example.com/backstage/services/firmware/internal/models"
	"example.com/backstage/services/firmware/internal/repository"
)

// IssueHandler handles known-issue administration requests
type IssueHandler struct {
	issues repository.IssueRepository
	log    *logrus.Logger
}

// NewIssueHandler creates a new IssueHandler instance
func NewIssueHandler(issues repository.IssueRepository, log *logrus.Logger) *IssueHandler {
	return &IssueHandler{
		issues: issues,
		log:    log,
	}
}

// CreateIssue handles creating a new issue. Issues start disabled so
// conditions can be added before any reports match.
func (h *IssueHandler) CreateIssue(c *gin.Context) {
	var issue models.Issue
	if err := c.ShouldBindJSON(&issue); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid issue format",
		})
		return
	}
	if issue.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Issue URL required",
		})
		return
	}

	if err := h.issues.Create(c.Request.Context(), &issue); err != nil {
		h.log.WithError(err).Error("Failed to create issue")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create issue",
		})
		return
	}
	c.JSON(http.StatusCreated, issue)
}

// GetIssue handles issue retrieval with its conditions
func (h *IssueHandler) GetIssue(c *gin.Context) {
	issue, ok := h.findIssue(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, issue)
}

// SetEnabled handles toggling an issue on or off
func (h *IssueHandler) SetEnabled(c *gin.Context) {
	issue, ok := h.findIssue(c)
	if !ok {
		return
	}

	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid enable request",
		})
		return
	}

	if err := h.issues.SetEnabled(c.Request.Context(), issue, *req.Enabled); err != nil {
		if errors.Is(err, repository.ErrNoConditions) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Issue has no conditions",
			})
			return
		}
		h.log.WithError(err).Error("Failed to update issue")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to update issue",
		})
		return
	}
	c.JSON(http.StatusOK, issue)
}

// AddCondition handles appending a matching condition to an issue
func (h *IssueHandler) AddCondition(c *gin.Context) {
	issue, ok := h.findIssue(c)
	if !ok {
		return
	}

	var condition models.Condition
	if err := c.ShouldBindJSON(&condition); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid condition format",
		})
		return
	}
	if condition.Key == "" || condition.Value == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Condition key and value required",
		})
		return
	}

	if err := h.issues.AddCondition(c.Request.Context(), issue, &condition); err != nil {
		h.log.WithError(err).Error("Failed to add condition")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to add condition",
		})
		return
	}
	c.JSON(http.StatusCreated, condition)
}

// DeleteCondition handles removing a condition from an issue
func (h *IssueHandler) DeleteCondition(c *gin.Context) {
	issue, ok := h.findIssue(c)
	if !ok {
		return
	}

	conditionID, err := strconv.ParseUint(c.Param("condition_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid condition ID",
		})
		return
	}

	if err := h.issues.DeleteCondition(c.Request.Context(), issue, uint(conditionID)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Condition not found",
			})
			return
		}
		h.log.WithError(err).Error("Failed to delete condition")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to delete condition",
		})
		return
	}
	c.JSON(http.StatusOK, issue)
}

// DeleteIssue handles removing an issue and its conditions
func (h *IssueHandler) DeleteIssue(c *gin.Context) {
	issue, ok := h.findIssue(c)
	if !ok {
		return
	}

	if err := h.issues.Delete(c.Request.Context(), issue.ID); err != nil {
		h.log.WithError(err).Error("Failed to delete issue")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to delete issue",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *IssueHandler) findIssue(c *gin.Context) (*models.Issue, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid issue ID",
		})
		return nil, false
	}
	issue, err := h.issues.FindByID(c.Request.Context(), uint(id))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Issue not found",
			})
			return nil, false
		}
		h.log.WithError(err).Error("Failed to get issue")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get issue",
		})
		return nil, false
	}
	return issue, true
}
