package database

import (
	"fmt"
	"llm_eval_backend/internal/config"
	"llm_eval_backend/internal/model"
	"log"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Models 参与自动迁移的全部模型
func Models() []interface{} {
	return []interface{}{
		&model.StandardQuestion{},
		&model.StandardAnswer{},
		&model.AnswerKeyPoint{},
		&model.FinalAnswer{},
		&model.CrowdsourcingTask{},
		&model.CrowdsourcingTaskQuestion{},
		&model.CrowdsourcingAnswer{},
		&model.DatasetVersion{},
		&model.DatasetQuestion{},
		&model.LlmModel{},
		&model.LlmAnswer{},
		&model.EvaluationBatch{},
		&model.Evaluation{},
	}
}

func dialector(cfg *config.DatabaseConfig) gorm.Dialector {
	if cfg.Driver == "sqlite" {
		// 本地开发使用纯 Go 的 sqlite，无需 cgo
		return sqlite.Open(cfg.DBName)
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.DBName,
		cfg.Charset,
		cfg.ParseTime,
	)
	return mysql.Open(dsn)
}

func InitDB(cfg *config.DatabaseConfig, migrate bool) (*gorm.DB, error) {
	db, err := gorm.Open(dialector(cfg), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})

	if err != nil {
		return nil, err
	}

	if cfg.Driver == "sqlite" {
		// sqlite 单写者
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}

	log.Println("Database connection established")

	if !migrate {
		return db, nil
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}

	log.Println("Database migration completed")
	return db, nil
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
