package database

import (
	"fmt"
	"time"

	"example.com/backstage/services/firmware/config"
	"example.com/backstage/services/firmware/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is an interface for database operations
type DB interface {
	DB() (*gorm.DB, error)
	Close() error
}

// GormDatabase implements the DB interface for GORM
type GormDatabase struct {
	db *gorm.DB
}

// gormConfig returns the session configuration. TranslateError maps
// driver unique-violation errors to gorm.ErrDuplicatedKey, which the
// repositories rely on for duplicate-upload detection.
func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Warn),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	}
}

// Connect establishes a connection to the database
func Connect(cfg config.DatabaseConfig) (DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get DB instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(50)
	sqlDB.SetMaxOpenConns(500)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return &GormDatabase{db: db}, nil
}

// DB returns the underlying gorm.DB instance
func (d *GormDatabase) DB() (*gorm.DB, error) {
	return d.db, nil
}

// Close closes the database connection
func (d *GormDatabase) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrate runs database migrations in a safe order that handles
// circular dependencies
func AutoMigrate(db DB) error {
	gormDB, err := db.DB()
	if err != nil {
		return err
	}

	// migrate all table structures without foreign key constraints
	gormDB.DisableForeignKeyConstraintWhenMigrating = true
	err = gormDB.AutoMigrate(
		&models.Remote{},
		&models.Vendor{},
		&models.Restriction{},
		&models.Affiliation{},
		&models.User{},
		&models.UserCertificate{},
		&models.APIKey{},
		&models.Firmware{},
		&models.FirmwareEvent{},
		&models.Component{},
		&models.Guid{},
		&models.Requirement{},
		&models.DeviceChecksum{},
		&models.Issue{},
		&models.Condition{},
		&models.Report{},
		&models.ReportAttribute{},
		&models.Event{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate table structures: %w", err)
	}
	gormDB.DisableForeignKeyConstraintWhenMigrating = false

	return nil
}
