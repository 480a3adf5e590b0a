package model

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/relaymesh/gateway/common"
	"github.com/relaymesh/gateway/common/config"
	"github.com/relaymesh/gateway/common/logger"
)

// DB is the primary relational store: Providers, Endpoints, Keys, Models, and settled costs.
var DB *gorm.DB

// LOG_DB holds the usage ledger when LOG_SQL_DSN points it at a separate database, falling back
// to DB when unset so a single-node deployment never needs a second connection string.
var LOG_DB *gorm.DB

func chooseDB(dsn string) (*gorm.DB, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"):
		return openPostgreSQL(dsn)
	case dsn != "":
		return openMySQL(dsn)
	default:
		return openSQLite()
	}
}

func openPostgreSQL(dsn string) (*gorm.DB, error) {
	logger.Logger.Info("using PostgreSQL as database")
	common.UsingPostgreSQL.Store(true)
	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		PrepareStmt: true,
	})
}

func openMySQL(dsn string) (*gorm.DB, error) {
	logger.Logger.Info("using MySQL as database")
	common.UsingMySQL.Store(true)
	normalized, err := common.NormalizeMySQLDSN(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "normalize MySQL DSN")
	}
	return gorm.Open(mysql.Open(normalized), &gorm.Config{
		PrepareStmt: true,
	})
}

func openSQLite() (*gorm.DB, error) {
	logger.Logger.Info("SQL_DSN not set, using SQLite as database")
	common.UsingSQLite.Store(true)
	dsn := fmt.Sprintf("%s?_busy_timeout=%d", common.SQLitePath, common.SQLiteBusyTimeout)
	return gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt: true,
	})
}

// InitDB opens the primary database and, on the master node, runs schema migration.
func InitDB() {
	var err error
	DB, err = chooseDB(config.SQLDSN)
	if err != nil {
		logger.Logger.Fatal("failed to initialize database", zap.Error(err))
		return
	}

	if config.DebugSQLEnabled {
		logger.Logger.Debug("debug sql enabled")
		DB = DB.Debug()
	}

	setDBConns(DB)

	if !config.IsMasterNode {
		return
	}

	logger.Logger.Info("database migration started")
	if err = migrateDB(); err != nil {
		logger.Logger.Fatal("failed to migrate database", zap.Error(err))
		return
	}
	logger.Logger.Info("database migration completed")
}

func migrateDB() error {
	for _, m := range []any{
		&Provider{},
		&Endpoint{},
		&Key{},
		&GlobalModel{},
		&Model{},
		&PendingUsage{},
		&CandidateAttempt{},
		&MonthlyUsageCounter{},
	} {
		if err := DB.AutoMigrate(m); err != nil {
			return errors.Wrapf(err, "failed to migrate %T", m)
		}
	}
	return nil
}

// InitLogDB opens the secondary usage-ledger database, falling back to DB when unconfigured.
func InitLogDB() {
	if config.LogSQLDSN == "" {
		LOG_DB = DB
		return
	}

	logger.Logger.Info("using secondary database for usage ledger")
	var err error
	LOG_DB, err = chooseDB(config.LogSQLDSN)
	if err != nil {
		logger.Logger.Fatal("failed to initialize secondary database", zap.Error(err))
		return
	}

	setDBConns(LOG_DB)

	if !config.IsMasterNode {
		return
	}

	logger.Logger.Info("secondary database migration started")
	if err = LOG_DB.AutoMigrate(&PendingUsage{}, &CandidateAttempt{}, &MonthlyUsageCounter{}); err != nil {
		logger.Logger.Fatal("failed to migrate secondary database", zap.Error(err))
		return
	}
	logger.Logger.Info("secondary database migrated")
}

func setDBConns(db *gorm.DB) *sql.DB {
	sqlDB, err := db.DB()
	if err != nil {
		logger.Logger.Fatal("failed to connect database", zap.Error(err))
		return nil
	}

	maxIdleConns := config.SQLMaxIdleConns
	maxOpenConns := config.SQLMaxOpenConns
	maxLifetime := config.SQLMaxLifetimeSeconds

	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Second * time.Duration(maxLifetime))

	logger.Logger.Info("database connection pool configured",
		zap.Int("max_idle_conns", maxIdleConns),
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_lifetime_secs", maxLifetime))

	go monitorDBConnections(sqlDB)

	return sqlDB
}

func monitorDBConnections(sqlDB *sql.DB) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		stats := sqlDB.Stats()

		if stats.InUse > int(float64(stats.MaxOpenConnections)*0.8) {
			usagePercent := float64(stats.InUse) / float64(stats.MaxOpenConnections) * 100
			logger.Logger.Error("high db connection usage",
				zap.Int("in_use", stats.InUse),
				zap.Int("max_open", stats.MaxOpenConnections),
				zap.Float64("usage_percent", usagePercent),
				zap.Int("idle", stats.Idle),
				zap.Int64("wait_count", stats.WaitCount),
				zap.Duration("wait_duration", stats.WaitDuration))
		}

		if stats.WaitCount > 0 && stats.WaitDuration > time.Second {
			logger.Logger.Error("db connection pool bottleneck, consider raising SQL_MAX_OPEN_CONNS",
				zap.Int64("wait_count", stats.WaitCount),
				zap.Duration("wait_duration", stats.WaitDuration))
		}
	}
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return errors.WithStack(err)
	}
	return sqlDB.Close()
}

// CloseDB releases the primary (and, if distinct, secondary) database connections.
func CloseDB() error {
	if err := closeDB(DB); err != nil {
		return err
	}
	if LOG_DB != nil && LOG_DB != DB {
		return closeDB(LOG_DB)
	}
	return nil
}
