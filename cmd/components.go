package cmd

import (
	"time"

	"example.com/backstage/services/firmware/config"
	"example.com/backstage/services/firmware/internal/cache"
	"example.com/backstage/services/firmware/internal/database"
	"example.com/backstage/services/firmware/internal/messaging"
	"example.com/backstage/services/firmware/internal/plugins"
	"example.com/backstage/services/firmware/internal/repository"
	"example.com/backstage/services/firmware/internal/service"
	"example.com/backstage/services/firmware/internal/utils"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// components holds every initialized backend the commands share
type components struct {
	cfg   *config.Config
	db    database.DB
	redis cache.RedisClient
	bus   messaging.ServiceBusClient
	chain *plugins.Chain

	firmwareRepo repository.FirmwareRepository
	remoteRepo   repository.RemoteRepository
	vendorRepo   repository.VendorRepository
	reportRepo   repository.ReportRepository
	issueRepo    repository.IssueRepository
	userRepo     repository.UserRepository
	eventRepo    repository.EventRepository

	uploads  service.UploadService
	reports  service.ReportService
	publish  service.PublishService
	signing  service.SigningService
	firmware service.FirmwareService
}

// initComponents connects to the backends and wires the service layer
func initComponents(clientType string) (*components, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	c := &components{cfg: cfg}

	// Connect to the database with retry logic
	maxRetries := 5
	retryInterval := time.Second
	for i := 0; i < maxRetries; i++ {
		log.WithField("attempt", i+1).Info("Connecting to database...")
		c.db, err = database.Connect(cfg.Database)
		if err == nil {
			break
		}
		log.WithFields(logrus.Fields{
			"error":         err.Error(),
			"retry_attempt": i + 1,
			"max_retries":   maxRetries,
		}).Error("Failed to connect to database, retrying...")
		if i < maxRetries-1 {
			time.Sleep(retryInterval)
			retryInterval *= 2
		}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to database after %d attempts", maxRetries)
	}

	log.Info("Connecting to Redis...")
	c.redis, err = cache.NewRedisClient(cfg.Redis)
	if err != nil {
		c.db.Close()
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	log.Info("Connecting to message broker...")
	c.bus, err = messaging.NewServiceBusClient(cfg.ServiceBus, clientType)
	if err != nil {
		c.redis.Close()
		c.db.Close()
		return nil, errors.Wrap(err, "failed to connect to message broker")
	}

	// Load the metadata signing key, generating one on first start
	keys, err := utils.LoadSigningKeyPair(cfg.Signing.KeyID, cfg.Signing.KeyDir)
	if err != nil {
		log.WithError(err).Info("No stored signing key, generating a new one")
		keys, err = utils.GenerateSigningKeyPair(cfg.Signing.KeyID)
		if err != nil {
			c.close()
			return nil, errors.Wrap(err, "failed to generate signing key pair")
		}
		if err := utils.SaveSigningKeyPair(keys, cfg.Signing.KeyDir); err != nil {
			c.close()
			return nil, errors.Wrap(err, "failed to save signing key pair")
		}
		log.WithField("key_id", keys.KeyID).Info("Generated new signing key pair")
	}

	signer := plugins.NewDetachedSigner(keys)
	c.chain = plugins.NewChain(log)
	c.chain.RegisterSigner(signer)
	c.chain.RegisterFileModified(signer)
	c.chain.RegisterTest(plugins.NewBlocklist(nil))

	gormDB, err := c.db.DB()
	if err != nil {
		c.close()
		return nil, errors.Wrap(err, "failed to get DB instance")
	}
	c.firmwareRepo = repository.NewFirmwareRepository(gormDB)
	c.remoteRepo = repository.NewRemoteRepository(gormDB)
	c.vendorRepo = repository.NewVendorRepository(gormDB)
	c.reportRepo = repository.NewReportRepository(gormDB)
	c.issueRepo = repository.NewIssueRepository(gormDB)
	c.userRepo = repository.NewUserRepository(gormDB)
	c.eventRepo = repository.NewEventRepository(gormDB)

	c.uploads, err = service.NewUploadService(c.firmwareRepo, c.eventRepo, c.chain,
		log, cfg.Publish.DownloadDir)
	if err != nil {
		c.close()
		return nil, errors.Wrap(err, "failed to initialize upload service")
	}
	c.reports = service.NewReportService(c.firmwareRepo, c.reportRepo, c.issueRepo,
		c.userRepo, c.eventRepo, c.redis, log)
	c.publish = service.NewPublishService(c.firmwareRepo, c.remoteRepo, c.eventRepo,
		c.chain, c.redis, c.bus, log,
		cfg.Publish.DownloadDir, cfg.Publish.FirmwareBaseURI, cfg.Publish.VendorSalt)
	c.signing = service.NewSigningService(c.firmwareRepo, c.remoteRepo, c.eventRepo,
		c.chain, c.bus, log, cfg.Publish.DownloadDir)
	c.firmware = service.NewFirmwareService(c.firmwareRepo, c.remoteRepo, c.vendorRepo,
		c.reportRepo, c.eventRepo, log, cfg.Publish.DownloadDir,
		cfg.Reports.DemotionThreshold, int64(cfg.Reports.DemotionMinReports),
		time.Duration(cfg.Reports.PurgeRetentionDays)*24*time.Hour)

	return c, nil
}

// close shuts down the backend connections in reverse order
func (c *components) close() {
	if c.bus != nil {
		if err := c.bus.Close(); err != nil {
			log.WithError(err).Error("Error closing messaging connection")
		}
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			log.WithError(err).Error("Error closing Redis connection")
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			log.WithError(err).Error("Error closing database connection")
		}
	}
}
