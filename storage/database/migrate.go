package database

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"verifyflow/internal/model"
	"verifyflow/pkg/logger"
)

// Models 进度表与全部步骤数据表
func Models() []interface{} {
	return []interface{}{
		&model.VerificationProgress{},
		&model.Profile{},
		&model.ProviderDocument{},
		&model.PortfolioImage{},
		&model.ProviderService{},
		&model.BusinessTerms{},
	}
}

// Migrate 运行数据库迁移
func Migrate() error {
	db := DB()
	if db == nil {
		return gorm.ErrInvalidDB
	}

	logger.Logger.Info("Starting database migration...")
	if err := db.AutoMigrate(Models()...); err != nil {
		logger.Logger.Error("Database migration failed", zap.Error(err))
		return err
	}

	logger.Logger.Info("Database migration completed successfully")
	return nil
}
