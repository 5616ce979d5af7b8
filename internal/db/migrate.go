package db

import (
	"oraclebot/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	if err := db.Gorm.AutoMigrate(
		&models.Belief{},
		&models.TradeDecision{},
		&models.Position{},
		&models.CalibrationScore{},
		&models.MarketSettlement{},
	); err != nil {
		return err
	}

	// Enforces at most one open position per market at the database level.
	// Gorm tags cannot express a partial index condition.
	return db.Gorm.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_positions_open_market
		 ON positions (market_id) WHERE status = 'open'`,
	).Error
}
