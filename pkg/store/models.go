package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type ProductModel struct {
	ID               string    `gorm:"primaryKey"`
	Slug             string    `gorm:"uniqueIndex;not null"`
	Title            string    `gorm:"not null"`
	Repo             string    `gorm:"not null"`
	LastSyncedCommit string
	Price            int64     `gorm:"not null"`
	PreorderPrice    *int64
	InPreorder       bool      `gorm:"not null"`
	AssetKey         string
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time
}

type ChapterModel struct {
	ID        string `gorm:"primaryKey"`
	ProductID string `gorm:"not null;uniqueIndex:idx_chapters_product_path"`
	Path      string `gorm:"not null;uniqueIndex:idx_chapters_product_path"`
	Title     string
	Position  int            `gorm:"not null"`
	Body      string         `gorm:"type:text"`
	Metadata  datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null"`
	UpdatedAt time.Time
}

type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

// OwnedProductModel tracks the best-effort owned-products set updated after a
// purchase. The purchase ledger, not this table, is the source of truth.
type OwnedProductModel struct {
	UserID    string    `gorm:"primaryKey"`
	ProductID string    `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
}

// PurchaseModel rows are immutable once created. The composite unique index
// enforces at most one purchase per (user, product) at the store level.
type PurchaseModel struct {
	ID          string    `gorm:"primaryKey"`
	UserID      string    `gorm:"not null;uniqueIndex:idx_purchases_user_product"`
	ProductID   string    `gorm:"not null;uniqueIndex:idx_purchases_user_product"`
	AmountCents int64     `gorm:"not null"`
	Receipt     string    `gorm:"not null"`
	Preorder    bool      `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
}
