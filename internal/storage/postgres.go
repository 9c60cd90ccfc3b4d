package storage

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Gopher0727/CineMatch/internal/models"
)

// InitPostgres 初始化 PostgreSQL 连接并执行迁移
func InitPostgres(dsn string, maxIdleConns, maxOpenConns int, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取 sql.DB 失败: %w", err)
	}

	// 连接池
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	log.Info("postgres ready", zap.Int("max_open_conns", maxOpenConns))
	return db, nil
}

// Migrate 自动迁移所有模型，唯一索引是匹配/完成事件"只发一次"的依据
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.GroupSession{},
		&models.GroupMember{},
		&models.GroupSwipe{},
		&models.GroupMatch{},
		&models.GroupRoundCompletion{},
		&models.GroupChatMessage{},
	)
	if err != nil {
		return fmt.Errorf("模型迁移失败: %w", err)
	}
	return nil
}

// BuildDSN 构建PostgreSQL DSN
func BuildDSN(host, port, user, password, dbname string) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable", host, port, user, password, dbname)
}
