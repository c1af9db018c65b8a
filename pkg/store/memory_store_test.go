package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"bindery/pkg/domain"
)

func TestMemoryStoreProductRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	product := domain.Product{ID: "p1", Slug: "practical-indexing", Title: "Practical Indexing", Price: 20}
	if err := s.SaveProduct(product); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := s.GetProduct("p1")
	if err != nil || !ok {
		t.Fatalf("get by id: ok=%v err=%v", ok, err)
	}
	if got.Slug != "practical-indexing" {
		t.Fatalf("slug = %q", got.Slug)
	}

	bySlug, ok, err := s.GetProductBySlug("practical-indexing")
	if err != nil || !ok {
		t.Fatalf("get by slug: ok=%v err=%v", ok, err)
	}
	if bySlug.ID != "p1" {
		t.Fatalf("id = %q", bySlug.ID)
	}

	if _, ok, _ := s.GetProduct("absent"); ok {
		t.Fatalf("absent product should not be found")
	}
}

func TestMemoryStoreListProductsInsertionOrder(t *testing.T) {
	s := NewMemoryStore()
	for i := 0; i < 3; i++ {
		if err := s.SaveProduct(domain.Product{ID: fmt.Sprintf("p%d", i), Slug: fmt.Sprintf("book-%d", i)}); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	// Re-saving must not change position.
	if err := s.SaveProduct(domain.Product{ID: "p0", Slug: "book-0", Title: "renamed"}); err != nil {
		t.Fatalf("re-save: %v", err)
	}

	products, err := s.ListProducts()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(products) != 3 {
		t.Fatalf("len = %d", len(products))
	}
	for i, p := range products {
		if p.ID != fmt.Sprintf("p%d", i) {
			t.Fatalf("position %d holds %q", i, p.ID)
		}
	}
	if products[0].Title != "renamed" {
		t.Fatalf("re-save did not replace the record")
	}
}

func TestMemoryStoreSetLastSyncedCommit(t *testing.T) {
	s := NewMemoryStore()
	if err := s.SaveProduct(domain.Product{ID: "p1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SetLastSyncedCommit("p1", "sha-9"); err != nil {
		t.Fatalf("set marker: %v", err)
	}
	p, _, _ := s.GetProduct("p1")
	if p.LastSyncedCommit != "sha-9" {
		t.Fatalf("marker = %q", p.LastSyncedCommit)
	}
}

func TestMemoryStoreUpsertChapterKeyedByPath(t *testing.T) {
	s := NewMemoryStore()
	first := domain.Chapter{ID: "c1", ProductID: "p1", Path: "chapter-1.md", Title: "Old", Position: 1}
	if err := s.UpsertChapter(first); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	replacement := domain.Chapter{ID: "c2", ProductID: "p1", Path: "chapter-1.md", Title: "New", Position: 1}
	if err := s.UpsertChapter(replacement); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertChapter(domain.Chapter{ID: "c3", ProductID: "p1", Path: "introduction.md", Position: 0}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	chapters, err := s.ListChaptersByProduct("p1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(chapters) != 2 {
		t.Fatalf("len = %d, want 2", len(chapters))
	}
	if chapters[0].Path != "introduction.md" || chapters[1].Path != "chapter-1.md" {
		t.Fatalf("unexpected order: %q, %q", chapters[0].Path, chapters[1].Path)
	}
	// The update keeps the original row identity.
	if chapters[1].ID != "c1" || chapters[1].Title != "New" {
		t.Fatalf("upsert mishandled identity: %+v", chapters[1])
	}
}

func TestMemoryStoreUsersAndOwnership(t *testing.T) {
	s := NewMemoryStore()
	if err := s.SaveUser(domain.User{ID: "u1", Email: "reader@example.com"}); err != nil {
		t.Fatalf("save user: %v", err)
	}
	u, ok, err := s.GetUserByEmail("reader@example.com")
	if err != nil || !ok || u.ID != "u1" {
		t.Fatalf("get by email: %+v ok=%v err=%v", u, ok, err)
	}
	if _, ok, _ := s.GetUserByID("u2"); ok {
		t.Fatalf("absent user should not be found")
	}

	if err := s.AddOwnedProduct("u1", "p1"); err != nil {
		t.Fatalf("add owned: %v", err)
	}
	if err := s.AddOwnedProduct("u1", "p1"); err != nil {
		t.Fatalf("add owned twice: %v", err)
	}
	owned, err := s.ListOwnedProducts("u1")
	if err != nil {
		t.Fatalf("list owned: %v", err)
	}
	if len(owned) != 1 || owned[0] != "p1" {
		t.Fatalf("owned = %v", owned)
	}
}

func TestMemoryStoreCreatePurchaseRejectsDuplicate(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.CreatePurchase(domain.Purchase{ID: "x1", UserID: "u1", ProductID: "p1"}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := s.CreatePurchase(domain.Purchase{ID: "x2", UserID: "u1", ProductID: "p1"}); !errors.Is(err, domain.ErrDuplicatePurchase) {
		t.Fatalf("expected ErrDuplicatePurchase, got: %v", err)
	}
	// A different product for the same user is fine.
	if _, err := s.CreatePurchase(domain.Purchase{ID: "x3", UserID: "u1", ProductID: "p2"}); err != nil {
		t.Fatalf("different product: %v", err)
	}
}

func TestMemoryStoreCreatePurchaseConcurrent(t *testing.T) {
	s := NewMemoryStore()
	const attempts = 16
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.CreatePurchase(domain.Purchase{ID: fmt.Sprintf("x%d", i), UserID: "u1", ProductID: "p1"})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var created int
	for err := range errs {
		if err == nil {
			created++
		} else if !errors.Is(err, domain.ErrDuplicatePurchase) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 1 {
		t.Fatalf("created = %d, want exactly 1", created)
	}

	records, err := s.ListPurchasesByUser("u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
}
