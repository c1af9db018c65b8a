package store

import "bindery/pkg/domain"

// Store defines persistence operations for products, chapters, users, and
// purchases.
type Store interface {
	// products
	SaveProduct(domain.Product) error
	GetProduct(id string) (domain.Product, bool, error)
	GetProductBySlug(slug string) (domain.Product, bool, error)
	ListProducts() ([]domain.Product, error)
	SetLastSyncedCommit(productID, commit string) error

	// chapters
	UpsertChapter(domain.Chapter) error
	ListChaptersByProduct(productID string) ([]domain.Chapter, error)

	// users
	SaveUser(domain.User) error
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	AddOwnedProduct(userID, productID string) error
	ListOwnedProducts(userID string) ([]string, error)

	// purchases
	FindPurchase(userID, productID string) (domain.Purchase, bool, error)
	CreatePurchase(domain.Purchase) (domain.Purchase, error)
	ListPurchasesByUser(userID string) ([]domain.Purchase, error)
}
