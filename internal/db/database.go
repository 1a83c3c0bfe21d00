package db

import (
	"os"
	"path/filepath"

	"github.com/interoplabs/intent-relayer/internal/config"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type DatabaseManager struct {
	intentDb    *gorm.DB
	liquidityDb *gorm.DB
	chainDb     *gorm.DB
}

func NewDatabaseManager() *DatabaseManager {
	dm := &DatabaseManager{}
	dm.initDB()
	return dm
}

func (dm *DatabaseManager) initDB() {
	dbDir := config.AppConfig.DbDir
	if err := os.MkdirAll(dbDir, os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	intentPath := filepath.Join(dbDir, "intent.db")
	intentDb, err := gorm.Open(sqlite.Open(intentPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Fatalf("Failed to connect to intent database: %v", err)
	}
	dm.intentDb = intentDb
	log.Debugf("Intent database connected, path: %s", intentPath)

	liquidityPath := filepath.Join(dbDir, "liquidity.db")
	liquidityDb, err := gorm.Open(sqlite.Open(liquidityPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Fatalf("Failed to connect to liquidity database: %v", err)
	}
	dm.liquidityDb = liquidityDb
	log.Debugf("Liquidity database connected, path: %s", liquidityPath)

	chainPath := filepath.Join(dbDir, "chain.db")
	chainDb, err := gorm.Open(sqlite.Open(chainPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Fatalf("Failed to connect to chain database: %v", err)
	}
	dm.chainDb = chainDb
	log.Debugf("Chain database connected, path: %s", chainPath)

	dm.autoMigrate()
	log.Debugf("Database migration completed successfully")
}

func (dm *DatabaseManager) GetIntentDB() *gorm.DB {
	return dm.intentDb
}

func (dm *DatabaseManager) GetLiquidityDB() *gorm.DB {
	return dm.liquidityDb
}

func (dm *DatabaseManager) GetChainDB() *gorm.DB {
	return dm.chainDb
}
