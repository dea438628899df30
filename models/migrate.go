package models

import "gorm.io/gorm"

// All 返回全部需要迁移的模型
func All() []interface{} {
	return []interface{}{
		&User{},
		&Book{},
		&PublishedBook{},
		&UserPublishedBookInteraction{},
		&Match{},
		&MatchBook{},
		&UserBook{},
		&Exchange{},
		&Payment{},
		&Transaction{},
		&Rating{},
		&Chat{},
		&ChatUser{},
		&ChatRequest{},
		&Message{},
	}
}

// AutoMigrate 自动迁移数据库结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(All()...)
}
