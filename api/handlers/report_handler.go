package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"example.com/backstage/services/firmware/internal/service"
)

// ReportHandler handles update report submissions from clients
type ReportHandler struct {
	reports service.ReportService
	log     *logrus.Logger
}

// NewReportHandler creates a new ReportHandler instance
func NewReportHandler(reports service.ReportService, log *logrus.Logger) *ReportHandler {
	return &ReportHandler{
		reports: reports,
		log:     log,
	}
}

// SubmitReport handles a report upload. Clients either POST the JSON
// payload directly, or send multipart form data with a "payload" part
// and an optional detached "signature" part. The response is always
// HTTP 200 with a success field so old clients do not retry forever.
func (h *ReportHandler) SubmitReport(c *gin.Context) {
	payload, signature, err := h.readSubmission(c)
	if err != nil {
		h.reject(c, err.Error())
		return
	}
	if len(payload) == 0 {
		h.reject(c, "No data")
		return
	}

	result, err := h.reports.ProcessReport(c.Request.Context(), payload, signature)
	if err != nil {
		var reject *service.RejectError
		if errors.As(err, &reject) {
			h.reject(c, reject.Msg)
			return
		}
		h.log.WithError(err).Error("Failed to process report")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"msg":     "Failed to process report",
		})
		return
	}

	resp := gin.H{"success": true}
	if len(result.Msgs) > 0 {
		resp["msg"] = strings.Join(result.Msgs, "; ")
	}
	if len(result.URIs) > 0 {
		resp["uri"] = strings.Join(result.URIs, "; ")
	}
	c.JSON(http.StatusOK, resp)
}

// readSubmission extracts the payload and signature from either a raw
// body or a multipart form
func (h *ReportHandler) readSubmission(c *gin.Context) ([]byte, string, error) {
	contentType := c.ContentType()
	if contentType != "multipart/form-data" {
		payload, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return nil, "", errors.New("No data")
		}
		return payload, "", nil
	}

	file, _, err := c.Request.FormFile("payload")
	if err != nil {
		return nil, "", errors.New("No payload in multipart/form-data")
	}
	defer file.Close()
	payload, err := io.ReadAll(file)
	if err != nil {
		return nil, "", errors.New("No payload in multipart/form-data")
	}

	var signature string
	if sigFile, _, err := c.Request.FormFile("signature"); err == nil {
		defer sigFile.Close()
		if buf, err := io.ReadAll(sigFile); err == nil {
			signature = strings.TrimSpace(string(buf))
		}
	}
	return payload, signature, nil
}

func (h *ReportHandler) reject(c *gin.Context, msg string) {
	h.log.WithField("msg", msg).Warn("Report rejected")
	c.JSON(http.StatusOK, gin.H{
		"success": false,
		"msg":     msg,
	})
}
