package store

import (
	"sort"
	"sync"
	"time"

	"bindery/pkg/domain"
)

// MemoryStore keeps all records in-process. It enforces the same uniqueness
// rules as the Postgres store and is used in tests and local development.
type MemoryStore struct {
	mu        sync.Mutex
	products  map[string]domain.Product
	order     []string
	chapters  map[string]map[string]domain.Chapter // productID -> path -> chapter
	users     map[string]domain.User
	email     map[string]string // email -> user ID
	owned     map[string]map[string]bool
	purchases map[string]domain.Purchase // userID+"/"+productID -> purchase
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:  make(map[string]domain.Product),
		chapters:  make(map[string]map[string]domain.Chapter),
		users:     make(map[string]domain.User),
		email:     make(map[string]string),
		owned:     make(map[string]map[string]bool),
		purchases: make(map[string]domain.Purchase),
	}
}

// SaveProduct stores or replaces a product and tracks insertion order.
func (m *MemoryStore) SaveProduct(p domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.products[p.ID]; !exists {
		m.order = append(m.order, p.ID)
	}
	m.products[p.ID] = p
	return nil
}

// GetProduct retrieves a product by ID.
func (m *MemoryStore) GetProduct(id string) (domain.Product, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	return p, ok, nil
}

// GetProductBySlug retrieves a product by slug.
func (m *MemoryStore) GetProductBySlug(slug string) (domain.Product, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if p.Slug == slug {
			return p, true, nil
		}
	}
	return domain.Product{}, false, nil
}

// ListProducts returns products in insertion order.
func (m *MemoryStore) ListProducts() ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.Product, 0, len(m.order))
	for _, id := range m.order {
		if p, ok := m.products[id]; ok {
			res = append(res, p)
		}
	}
	return res, nil
}

// SetLastSyncedCommit advances the product's sync marker.
func (m *MemoryStore) SetLastSyncedCommit(productID, commit string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return nil
	}
	p.LastSyncedCommit = commit
	p.UpdatedAt = time.Now().UTC()
	m.products[productID] = p
	return nil
}

// UpsertChapter inserts or updates the chapter keyed by (product, path).
func (m *MemoryStore) UpsertChapter(c domain.Chapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPath, ok := m.chapters[c.ProductID]
	if !ok {
		byPath = make(map[string]domain.Chapter)
		m.chapters[c.ProductID] = byPath
	}
	if existing, ok := byPath[c.Path]; ok {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
	}
	byPath[c.Path] = c
	return nil
}

// ListChaptersByProduct returns a product's chapters in reading order.
func (m *MemoryStore) ListChaptersByProduct(productID string) ([]domain.Chapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.Chapter, 0, len(m.chapters[productID]))
	for _, c := range m.chapters[productID] {
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Position < res[j].Position })
	return res, nil
}

// SaveUser registers or replaces a user.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// AddOwnedProduct records product ownership for a user.
func (m *MemoryStore) AddOwnedProduct(userID, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.owned[userID]
	if !ok {
		set = make(map[string]bool)
		m.owned[userID] = set
	}
	set[productID] = true
	return nil
}

// ListOwnedProducts returns the product IDs owned by a user.
func (m *MemoryStore) ListOwnedProducts(userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.owned[userID]))
	for id := range m.owned[userID] {
		ids = append(ids, id)
	}
	return ids, nil
}

// FindPurchase looks up the purchase for a (user, product) pair.
func (m *MemoryStore) FindPurchase(userID, productID string) (domain.Purchase, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.purchases[userID+"/"+productID]
	return p, ok, nil
}

// CreatePurchase inserts a purchase record, rejecting duplicates for the same
// (user, product) pair with domain.ErrDuplicatePurchase.
func (m *MemoryStore) CreatePurchase(p domain.Purchase) (domain.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := p.UserID + "/" + p.ProductID
	if _, exists := m.purchases[key]; exists {
		return domain.Purchase{}, domain.ErrDuplicatePurchase
	}
	m.purchases[key] = p
	return p, nil
}

// ListPurchasesByUser returns a user's purchases.
func (m *MemoryStore) ListPurchasesByUser(userID string) ([]domain.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.Purchase, 0)
	for _, p := range m.purchases {
		if p.UserID == userID {
			res = append(res, p)
		}
	}
	return res, nil
}
