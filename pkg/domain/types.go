package domain

import "time"

// Product is a sellable book whose chapters are synced from a git repository.
type Product struct {
	ID               string    `json:"id"`
	Slug             string    `json:"slug"`
	Title            string    `json:"title"`
	Repo             string    `json:"repo"`
	LastSyncedCommit string    `json:"lastSyncedCommit,omitempty"`
	Price            int64     `json:"price"`
	PreorderPrice    *int64    `json:"preorderPrice,omitempty"`
	InPreorder       bool      `json:"inPreorder"`
	AssetKey         string    `json:"-"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Chapter is one synced content unit of a product, keyed by its source path.
type Chapter struct {
	ID        string            `json:"id"`
	ProductID string            `json:"productId"`
	Path      string            `json:"path"`
	Title     string            `json:"title"`
	Position  int               `json:"position"`
	Body      string            `json:"body"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Purchase records a completed one-time purchase. At most one exists per
// (user, product) pair; records are never updated or deleted.
type Purchase struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	ProductID   string    `json:"productId"`
	AmountCents int64     `json:"amountCents"`
	Receipt     string    `json:"receipt"`
	Preorder    bool      `json:"preorder"`
	CreatedAt   time.Time `json:"createdAt"`
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
