package database

import (
	"fmt"
	"time"

	"thriftledger/internal/config"
	"thriftledger/internal/model"
	"thriftledger/pkg/logger"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

// Models 需要自动迁移的表
func Models() []interface{} {
	return []interface{}{
		&model.Wallet{},
		&model.WalletTransaction{},
		&model.ThriftEnrollment{},
		&model.DefaultRecord{},
		&model.OutboxMessage{},
	}
}

// InitMySQL 初始化 MySQL 连接
func InitMySQL(cfg *config.MySQLConfig) *gorm.DB {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		logger.Fatalf("连接 MySQL 失败: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatalf("获取底层 DB 失败: %v", err)
	}

	// 连接池配置
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 自动迁移表结构
	if err := db.AutoMigrate(Models()...); err != nil {
		logger.Fatalf("自动迁移表结构失败: %v", err)
	}

	DB = db
	logger.Info("MySQL 连接成功")
	return db
}
