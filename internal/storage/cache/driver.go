package cache

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var db *gorm.DB

// Open 打開本地快取資料庫並建立 schema.
func Open(path string) error {
	conn, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("打開快取資料庫失敗: %w", err)
	}

	if err := conn.AutoMigrate(&CachedMessage{}); err != nil {
		return fmt.Errorf("快取 schema 遷移失敗: %w", err)
	}

	db = conn
	return nil
}

// Get 獲取快取資料庫實例.
func Get() *gorm.DB {
	return db
}

// IsOpen 檢查快取是否已打開.
func IsOpen() bool {
	return db != nil
}

// Close 關閉快取資料庫.
func Close() error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	db = nil
	return sqlDB.Close()
}
