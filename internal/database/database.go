package database

import (
	"fmt"

	"voucher-api/internal/models"
	"voucher-api/pkg/logging"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// Open connects to the relational store and runs migrations. An empty DSN
// falls back to a local SQLite file for development; production deployments
// set DATABASE_URL to a PostgreSQL DSN.
func Open(dsn string) (*gorm.DB, error) {
	var db *gorm.DB
	var err error

	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
	}

	if dsn == "" {
		logging.Infof("Database URL not set, using SQLite for development")
		db, err = gorm.Open(sqlite.Open("voucher-api.db"), gormConfig)
	} else {
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logging.Infof("Database connected successfully")
	return db, nil
}

// AutoMigrate creates or updates the schema for all entities.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Merchant{},
		&models.Content{},
		&models.Product{},
		&models.Voucher{},
		&models.Redemption{},
	)
}

// SeedDefaultData inserts a demo merchant, content item, and product so a
// fresh development database can issue vouchers immediately.
func SeedDefaultData(db *gorm.DB) error {
	merchant := models.Merchant{
		Name:   "Demo Merchant",
		Slug:   "demo",
		Status: "active",
	}
	if err := db.Where("slug = ?", "demo").FirstOrCreate(&merchant).Error; err != nil {
		return fmt.Errorf("failed to create default merchant: %w", err)
	}

	content := models.Content{
		Ref:      "/static/demo.html",
		MimeType: "text/html",
		Kind:     "page",
	}
	if err := db.Where("ref = ?", content.Ref).FirstOrCreate(&content).Error; err != nil {
		return fmt.Errorf("failed to create default content: %w", err)
	}

	product := models.Product{
		MerchantID:      merchant.ID,
		Name:            "Demo Product",
		ContentID:       content.ID,
		DefaultDuration: 15,
		PolicyOneDevice: true,
	}
	if err := db.Where("merchant_id = ? AND name = ?", merchant.ID, product.Name).
		FirstOrCreate(&product).Error; err != nil {
		return fmt.Errorf("failed to create default product: %w", err)
	}

	logging.Infof("Default data inserted successfully")
	return nil
}

// Dialect identifiers supported by the database layer.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// DialectName returns the active database dialect name.
func DialectName(db *gorm.DB) string {
	if db == nil || db.Dialector == nil {
		return ""
	}
	return db.Dialector.Name()
}

// SupportsRowLocking reports whether the dialect understands SELECT ... FOR
// UPDATE. SQLite serializes writers globally, so the clause is unnecessary
// there and rejected by its parser.
func SupportsRowLocking(db *gorm.DB) bool {
	return DialectName(db) == DialectPostgres
}
