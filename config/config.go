package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the service configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	ServiceBus ServiceBusConfig
	NewRelic   NewRelicConfig
	Publish    PublishConfig
	Signing    SigningConfig
	Reports    ReportsConfig
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Port int
	Mode string // debug, release, test
}

// DatabaseConfig holds the database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds the Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// ServiceBusConfig holds the Azure Service Bus configuration
type ServiceBusConfig struct {
	ConnectionString string
	QueueName        string
}

// NewRelicConfig holds the New Relic configuration
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// PublishConfig holds the catalog publication settings
type PublishConfig struct {
	// DownloadDir is where catalogs and firmware archives are served from
	DownloadDir string
	// FirmwareBaseURI prefixes the <location> of every published firmware
	FirmwareBaseURI string
	// VendorSalt salts the embargo catalog filenames
	VendorSalt string
	// PulpManifest enables the third-party mirror manifest for the
	// public remote
	PulpManifest bool
}

// SigningConfig holds the archive signing settings
type SigningConfig struct {
	// KeyDir holds the PEM key pair named <KeyID>.key / <KeyID>.pub.
	// A missing pair is generated on first start.
	KeyDir string
	KeyID  string
}

// ReportsConfig holds the telemetry ingestion settings
type ReportsConfig struct {
	// DemotionThreshold is the failure fraction at which a stable
	// firmware is demoted back to testing; 0 disables demotion
	DemotionThreshold float64
	// DemotionMinReports is the minimum report count before the
	// threshold is considered
	DemotionMinReports int
	// PurgeRetentionDays is how long soft-deleted firmware is kept
	// before being hard-deleted
	PurgeRetentionDays int
}

// InitConfig initializes the configuration using Viper
func InitConfig(cfgFile string) error {
	// Set defaults for configuration
	setDefaults()

	// Use config file from the flag if provided
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in common directories with name "config"
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/firmware-service")
		viper.SetConfigName("config")
	}

	// Set environment variable prefix for config overrides
	viper.SetEnvPrefix("FIRMWARE")

	// Enable automatic environment variable binding
	// For example, FIRMWARE_SERVER_PORT will override server.port
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read configuration
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, using defaults and environment variables
			fmt.Println("No config file found, using defaults and environment variables")
		} else {
			// Config file was found but another error occurred
			return fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}

	return nil
}

// setDefaults sets default values for configuration
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 8093)
	viper.SetDefault("server.mode", "debug")

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "firmware")
	viper.SetDefault("database.password", "firmware")
	viper.SetDefault("database.dbname", "firmware_service_db")
	viper.SetDefault("database.sslmode", "disable")

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Service Bus defaults - no default connection string for security
	viper.SetDefault("servicebus.queuename", "firmware-events")

	// New Relic defaults
	viper.SetDefault("newrelic.appname", "Firmware Service Local")
	viper.SetDefault("newrelic.enabled", false)

	// Publication defaults
	viper.SetDefault("publish.downloaddir", "./downloads")
	viper.SetDefault("publish.firmwarebaseuri", "https://fwupd.org/downloads/")
	viper.SetDefault("publish.vendorsalt", "")
	viper.SetDefault("publish.pulpmanifest", true)

	// Signing defaults
	viper.SetDefault("signing.keydir", "./keys")
	viper.SetDefault("signing.keyid", "metadata")

	// Report defaults
	viper.SetDefault("reports.demotionthreshold", 0.30)
	viper.SetDefault("reports.demotionminreports", 5)
	viper.SetDefault("reports.purgeretentiondays", 180)
}

// Load loads the configuration
func Load() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port: viper.GetInt("server.port"),
			Mode: viper.GetString("server.mode"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("database.host"),
			Port:     viper.GetInt("database.port"),
			User:     viper.GetString("database.user"),
			Password: viper.GetString("database.password"),
			DBName:   viper.GetString("database.dbname"),
			SSLMode:  viper.GetString("database.sslmode"),
		},
		Redis: RedisConfig{
			Host:     viper.GetString("redis.host"),
			Port:     viper.GetInt("redis.port"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		ServiceBus: ServiceBusConfig{
			ConnectionString: viper.GetString("servicebus.connectionstring"),
			QueueName:        viper.GetString("servicebus.queuename"),
		},
		NewRelic: NewRelicConfig{
			AppName:    viper.GetString("newrelic.appname"),
			LicenseKey: viper.GetString("newrelic.licensekey"),
			Enabled:    viper.GetBool("newrelic.enabled"),
		},
		Publish: PublishConfig{
			DownloadDir:     viper.GetString("publish.downloaddir"),
			FirmwareBaseURI: viper.GetString("publish.firmwarebaseuri"),
			VendorSalt:      viper.GetString("publish.vendorsalt"),
			PulpManifest:    viper.GetBool("publish.pulpmanifest"),
		},
		Signing: SigningConfig{
			KeyDir: viper.GetString("signing.keydir"),
			KeyID:  viper.GetString("signing.keyid"),
		},
		Reports: ReportsConfig{
			DemotionThreshold:  viper.GetFloat64("reports.demotionthreshold"),
			DemotionMinReports: viper.GetInt("reports.demotionminreports"),
			PurgeRetentionDays: viper.GetInt("reports.purgeretentiondays"),
		},
	}, nil
}
