package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"bindery/pkg/domain"
)

const migrateLockID int64 = 52305230

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&ProductModel{},
			&ChapterModel{},
			&UserModel{},
			&OwnedProductModel{},
			&PurchaseModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveProduct stores or updates a product. The slug is immutable and is not
// part of the update column set.
func (s *GormStore) SaveProduct(p domain.Product) error {
	model := productToModel(p)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "repo", "price", "preorder_price", "in_preorder", "asset_key", "updated_at"}),
	}).Create(&model).Error
}

// GetProduct retrieves a product by ID.
func (s *GormStore) GetProduct(id string) (domain.Product, bool, error) {
	var model ProductModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Product{}, false, nil
		}
		return domain.Product{}, false, err
	}
	return productFromModel(model), true, nil
}

// GetProductBySlug retrieves a product by slug.
func (s *GormStore) GetProductBySlug(slug string) (domain.Product, bool, error) {
	var model ProductModel
	if err := s.db.First(&model, "slug = ?", slug).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Product{}, false, nil
		}
		return domain.Product{}, false, err
	}
	return productFromModel(model), true, nil
}

// ListProducts returns all products ordered by created_at.
func (s *GormStore) ListProducts() ([]domain.Product, error) {
	var models []ProductModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Product, 0, len(models))
	for _, m := range models {
		res = append(res, productFromModel(m))
	}
	return res, nil
}

// SetLastSyncedCommit advances the product's sync marker.
func (s *GormStore) SetLastSyncedCommit(productID, commit string) error {
	return s.db.Model(&ProductModel{}).
		Where("id = ?", productID).
		Updates(map[string]any{
			"last_synced_commit": commit,
			"updated_at":         time.Now().UTC(),
		}).Error
}

// UpsertChapter inserts or updates the chapter keyed by (product_id, path).
func (s *GormStore) UpsertChapter(c domain.Chapter) error {
	model := chapterToModel(c)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_id"}, {Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "position", "body", "metadata", "updated_at"}),
	}).Create(&model).Error
}

// ListChaptersByProduct returns a product's chapters in reading order.
func (s *GormStore) ListChaptersByProduct(productID string) ([]domain.Chapter, error) {
	var models []ChapterModel
	if err := s.db.Where("product_id = ?", productID).
		Order("position ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	chapters := make([]domain.Chapter, 0, len(models))
	for _, m := range models {
		chapters = append(chapters, chapterFromModel(m))
	}
	return chapters, nil
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "password_hash", "updated_at"}),
	}).Create(&model).Error
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// AddOwnedProduct records product ownership for a user. Re-adding is a no-op.
func (s *GormStore) AddOwnedProduct(userID, productID string) error {
	model := OwnedProductModel{UserID: userID, ProductID: productID, CreatedAt: time.Now().UTC()}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error
}

// ListOwnedProducts returns the product IDs owned by a user.
func (s *GormStore) ListOwnedProducts(userID string) ([]string, error) {
	var models []OwnedProductModel
	if err := s.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ProductID)
	}
	return ids, nil
}

// FindPurchase looks up the purchase for a (user, product) pair.
func (s *GormStore) FindPurchase(userID, productID string) (domain.Purchase, bool, error) {
	var model PurchaseModel
	if err := s.db.First(&model, "user_id = ? AND product_id = ?", userID, productID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Purchase{}, false, nil
		}
		return domain.Purchase{}, false, err
	}
	return purchaseFromModel(model), true, nil
}

// CreatePurchase inserts a purchase record. A conflicting insert for the same
// (user, product) pair surfaces as domain.ErrDuplicatePurchase.
func (s *GormStore) CreatePurchase(p domain.Purchase) (domain.Purchase, error) {
	model := purchaseToModel(p)
	if err := s.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.Purchase{}, domain.ErrDuplicatePurchase
		}
		return domain.Purchase{}, err
	}
	return purchaseFromModel(model), nil
}

// ListPurchasesByUser returns a user's purchases ordered by created_at.
func (s *GormStore) ListPurchasesByUser(userID string) ([]domain.Purchase, error) {
	var models []PurchaseModel
	if err := s.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Purchase, 0, len(models))
	for _, m := range models {
		res = append(res, purchaseFromModel(m))
	}
	return res, nil
}

func productToModel(p domain.Product) ProductModel {
	return ProductModel{
		ID:               p.ID,
		Slug:             p.Slug,
		Title:            p.Title,
		Repo:             p.Repo,
		LastSyncedCommit: p.LastSyncedCommit,
		Price:            p.Price,
		PreorderPrice:    p.PreorderPrice,
		InPreorder:       p.InPreorder,
		AssetKey:         p.AssetKey,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func productFromModel(m ProductModel) domain.Product {
	return domain.Product{
		ID:               m.ID,
		Slug:             m.Slug,
		Title:            m.Title,
		Repo:             m.Repo,
		LastSyncedCommit: m.LastSyncedCommit,
		Price:            m.Price,
		PreorderPrice:    m.PreorderPrice,
		InPreorder:       m.InPreorder,
		AssetKey:         m.AssetKey,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func chapterToModel(c domain.Chapter) ChapterModel {
	meta, _ := json.Marshal(c.Metadata)
	return ChapterModel{
		ID:        c.ID,
		ProductID: c.ProductID,
		Path:      c.Path,
		Title:     c.Title,
		Position:  c.Position,
		Body:      c.Body,
		Metadata:  meta,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func chapterFromModel(m ChapterModel) domain.Chapter {
	var meta map[string]string
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	return domain.Chapter{
		ID:        m.ID,
		ProductID: m.ProductID,
		Path:      m.Path,
		Title:     m.Title,
		Position:  m.Position,
		Body:      m.Body,
		Metadata:  meta,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func purchaseToModel(p domain.Purchase) PurchaseModel {
	return PurchaseModel{
		ID:          p.ID,
		UserID:      p.UserID,
		ProductID:   p.ProductID,
		AmountCents: p.AmountCents,
		Receipt:     p.Receipt,
		Preorder:    p.Preorder,
		CreatedAt:   p.CreatedAt,
	}
}

func purchaseFromModel(m PurchaseModel) domain.Purchase {
	return domain.Purchase{
		ID:          m.ID,
		UserID:      m.UserID,
		ProductID:   m.ProductID,
		AmountCents: m.AmountCents,
		Receipt:     m.Receipt,
		Preorder:    m.Preorder,
		CreatedAt:   m.CreatedAt,
	}
}
