package domain

import "errors"

var (
	// ErrProductNotFound indicates the requested product does not exist.
	ErrProductNotFound = errors.New("product not found")
	// ErrDuplicatePurchase indicates a purchase already exists for the
	// (user, product) pair. Stores surface this from their uniqueness
	// constraint so concurrent attempts cannot both succeed.
	ErrDuplicatePurchase = errors.New("purchase already exists")
)
