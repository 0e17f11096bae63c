package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"example.com/backstage/services/firmware/api/handlers"
	"example.com/backstage/services/firmware/api/middleware"
	"example.com/backstage/services/firmware/internal/models"
	"example.com/backstage/services/firmware/internal/repository"
	"example.com/backstage/services/firmware/internal/service"
)

// Deps bundles everything the route handlers need
type Deps struct {
	Uploads  service.UploadService
	Firmware service.FirmwareService
	Reports  service.ReportService
	Issues   repository.IssueRepository
	Remotes  repository.RemoteRepository
	Users    repository.UserRepository
	Vendors  repository.VendorRepository
	Events   repository.EventRepository
	ReportDB repository.ReportRepository
	Log      *logrus.Logger
}

// SetupRoutes sets up all the routes for the server
func SetupRoutes(r *gin.Engine, deps Deps) {
	// Health check
	r.GET("/health", handlers.HealthCheck)

	// Report submission is unauthenticated; signed reports carry their
	// own client certificate
	reportHandler := handlers.NewReportHandler(deps.Reports, deps.Log)
	r.POST("/lvfs/firmware/report", reportHandler.SubmitReport)

	// API routes
	api := r.Group("/api/v1")

	writerAuth := middleware.APIKeyAuth(deps.Users, deps.Vendors, deps.Log, models.WriterAuthLevel)
	sudoAuth := middleware.APIKeyAuth(deps.Users, deps.Vendors, deps.Log, models.SudoAuthLevel)

	// Firmware routes
	firmwareHandler := handlers.NewFirmwareHandler(deps.Uploads, deps.Firmware, deps.ReportDB, deps.Log)
	firmware := api.Group("/firmware", writerAuth)
	{
		firmware.POST("", firmwareHandler.Upload)
		firmware.GET("", firmwareHandler.ListFirmware)
		firmware.GET("/:id", firmwareHandler.GetFirmware)
		firmware.GET("/:id/reports", firmwareHandler.ReportStats)
		firmware.POST("/:id/promote", firmwareHandler.Promote)
		firmware.DELETE("/:id", firmwareHandler.DeleteFirmware)
		firmware.POST("/:id/undelete", firmwareHandler.UndeleteFirmware)
	}

	// Audit log
	eventHandler := handlers.NewEventHandler(deps.Events, deps.Log)
	api.GET("/events", writerAuth, eventHandler.ListEvents)

	// Vendor routes
	vendorHandler := handlers.NewVendorHandler(deps.Vendors, deps.Log)
	vendors := api.Group("/vendors", sudoAuth)
	{
		vendors.POST("", vendorHandler.CreateVendor)
		vendors.GET("/:group_id", vendorHandler.GetVendor)
	}

	// Issue routes
	issueHandler := handlers.NewIssueHandler(deps.Issues, deps.Log)
	issues := api.Group("/issues", sudoAuth)
	{
		issues.POST("", issueHandler.CreateIssue)
		issues.GET("/:id", issueHandler.GetIssue)
		issues.PATCH("/:id/enabled", issueHandler.SetEnabled)
		issues.POST("/:id/conditions", issueHandler.AddCondition)
		issues.DELETE("/:id/conditions/:condition_id", issueHandler.DeleteCondition)
		issues.DELETE("/:id", issueHandler.DeleteIssue)
	}

	// Remote routes
	remoteHandler := handlers.NewRemoteHandler(deps.Remotes, deps.Log)
	remotes := api.Group("/remotes", sudoAuth)
	{
		remotes.GET("", remoteHandler.ListRemotes)
		remotes.GET("/:id", remoteHandler.GetRemote)
		remotes.POST("/:id/rebuild", remoteHandler.RebuildRemote)
	}
}
