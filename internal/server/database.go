package server

import (
	"fmt"
	"log"
	"net"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gridpoint-io/meterwms/internal/config"
	"github.com/gridpoint-io/meterwms/internal/models"
)

const embeddedDataPath = "./db_data"

// DB wraps gorm.DB and includes a reference to an embedded process if active
type DB struct {
	*gorm.DB
	embedded *embeddedpostgres.EmbeddedPostgres
}

// isPortInUse checks if a port is already in use
func isPortInUse(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Connect establishes a connection to PostgreSQL: the configured
// external instance, or an embedded one for development.
func Connect(cfg *config.ServerConfig) (*DB, error) {
	var embedded *embeddedpostgres.EmbeddedPostgres
	dsn := cfg.DatabaseURL

	if cfg.EmbeddedDB {
		log.Println("📦 Mode: [Embedded PostgreSQL] - Initializing internal database...")

		if isPortInUse(cfg.EmbeddedDBPort) {
			return nil, fmt.Errorf("port %d is already in use", cfg.EmbeddedDBPort)
		}

		embeddedCfg := embeddedpostgres.DefaultConfig().
			DataPath(embeddedDataPath).
			Port(uint32(cfg.EmbeddedDBPort)).
			Database("meterwms").
			Username("meterwms").
			Password("postgres")

		embedded = embeddedpostgres.NewDatabase(embeddedCfg)
		if err := embedded.Start(); err != nil {
			return nil, fmt.Errorf("failed to start embedded database: %w", err)
		}

		dsn = fmt.Sprintf(
			"host=localhost port=%d user=meterwms password=postgres dbname=meterwms sslmode=disable",
			cfg.EmbeddedDBPort,
		)
		log.Printf("✅ Embedded PostgreSQL process started on port %d", cfg.EmbeddedDBPort)
	} else {
		log.Println("🌐 Mode: [External PostgreSQL]")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		if embedded != nil {
			_ = embedded.Stop()
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err == nil {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	log.Println("✅ Database connection established")

	return &DB{
		DB:       db,
		embedded: embedded,
	}, nil
}

// Close ensures the database connection and embedded process are shut down
func (db *DB) Close() error {
	if db.embedded != nil {
		log.Println("🛑 Stopping Embedded PostgreSQL process...")
		_ = db.embedded.Stop()
	}

	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate synchronizes the inventory schema.
func (db *DB) Migrate() error {
	return db.AutoMigrate(
		&models.Product{},
		&models.Meter{},
		&models.Customer{},
		&models.Sale{},
		&models.SaleItem{},
		&models.UserAuth{},
	)
}
