package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/JakeFAU/classifieds-crawler/internal/catalog"
)

const maxTitleLen = 255

// CatalogStore is an in-memory catalog.Store. Transactions are serialized
// and roll back by restoring a snapshot.
type CatalogStore struct {
	mu    sync.Mutex
	state *state
	clock catalog.Clock
}

type state struct {
	nextID     int64
	categories map[int64]catalog.Category
	addresses  map[int64]catalog.Address
	searches   map[int64]catalog.Search
	items      map[int64]catalog.Item
	itemsByURL map[string]int64
	results    []catalog.SearchResult
	updates    []catalog.ItemUpdate
}

func newState() *state {
	return &state{
		categories: make(map[int64]catalog.Category),
		addresses:  make(map[int64]catalog.Address),
		searches:   make(map[int64]catalog.Search),
		items:      make(map[int64]catalog.Item),
		itemsByURL: make(map[string]int64),
	}
}

func (s *state) clone() *state {
	cp := &state{
		nextID:     s.nextID,
		categories: make(map[int64]catalog.Category, len(s.categories)),
		addresses:  make(map[int64]catalog.Address, len(s.addresses)),
		searches:   make(map[int64]catalog.Search, len(s.searches)),
		items:      make(map[int64]catalog.Item, len(s.items)),
		itemsByURL: make(map[string]int64, len(s.itemsByURL)),
		results:    append([]catalog.SearchResult(nil), s.results...),
		updates:    append([]catalog.ItemUpdate(nil), s.updates...),
	}
	for k, v := range s.categories {
		cp.categories[k] = v
	}
	for k, v := range s.addresses {
		cp.addresses[k] = v
	}
	for k, v := range s.searches {
		cp.searches[k] = v
	}
	for k, v := range s.items {
		cp.items[k] = v
	}
	for k, v := range s.itemsByURL {
		cp.itemsByURL[k] = v
	}
	return cp
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// NewCatalogStore creates an empty store. clock may be nil.
func NewCatalogStore(clock catalog.Clock) *CatalogStore {
	return &CatalogStore{state: newState(), clock: clock}
}

func (s *CatalogStore) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}

// GetCategory implements catalog.Store.
func (s *CatalogStore) GetCategory(_ context.Context, id int64) (catalog.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.state.categories[id]
	if !ok {
		return catalog.Category{}, fmt.Errorf("category %d: %w", id, catalog.ErrNotFound)
	}
	return c, nil
}

// ListCategories implements catalog.Store.
func (s *CatalogStore) ListCategories(_ context.Context) ([]catalog.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]catalog.Category, 0, len(s.state.categories))
	for _, c := range s.state.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListAddresses implements catalog.Store.
func (s *CatalogStore) ListAddresses(_ context.Context, categoryID int64) ([]catalog.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []catalog.Address
	for _, a := range s.state.addresses {
		if a.CategoryID == categoryID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertCategory matches on name.
func (s *CatalogStore) UpsertCategory(_ context.Context, category catalog.Category) (catalog.Category, error) {
	if category.Name == "" {
		return catalog.Category{}, errors.New("category name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.state.categories {
		if existing.Name == category.Name {
			category.ID = id
			s.state.categories[id] = category
			return category, nil
		}
	}
	category.ID = s.state.id()
	s.state.categories[category.ID] = category
	return category, nil
}

// UpsertAddress matches on category and URL.
func (s *CatalogStore) UpsertAddress(_ context.Context, address catalog.Address) (catalog.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.categories[address.CategoryID]; !ok {
		return catalog.Address{}, fmt.Errorf("category %d: %w", address.CategoryID, catalog.ErrNotFound)
	}
	for id, existing := range s.state.addresses {
		if existing.CategoryID == address.CategoryID && existing.URL == address.URL {
			address.ID = id
			s.state.addresses[id] = address
			return address, nil
		}
	}
	address.ID = s.state.id()
	s.state.addresses[address.ID] = address
	return address, nil
}

// CreateSearch implements catalog.Store.
func (s *CatalogStore) CreateSearch(_ context.Context, addressID int64, createdAt time.Time) (catalog.Search, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.addresses[addressID]; !ok {
		return catalog.Search{}, fmt.Errorf("address %d: %w", addressID, catalog.ErrNotFound)
	}
	search := catalog.Search{ID: s.state.id(), AddressID: addressID, CreatedAt: createdAt}
	s.state.searches[search.ID] = search
	return search, nil
}

// GetSearch implements catalog.Store.
func (s *CatalogStore) GetSearch(_ context.Context, id int64) (catalog.Search, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	search, ok := s.state.searches[id]
	if !ok {
		return catalog.Search{}, fmt.Errorf("search %d: %w", id, catalog.ErrNotFound)
	}
	return search, nil
}

// CountFound implements catalog.Store.
func (s *CatalogStore) CountFound(_ context.Context, searchID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.state.results {
		if r.SearchID == searchID && r.WasFound {
			n++
		}
	}
	return n, nil
}

// CategoryStats implements catalog.Store.
func (s *CatalogStore) CategoryStats(_ context.Context, categoryID int64, since time.Time) (catalog.CategoryStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.categories[categoryID]; !ok {
		return catalog.CategoryStats{}, fmt.Errorf("category %d: %w", categoryID, catalog.ErrNotFound)
	}
	stats := catalog.CategoryStats{CategoryID: categoryID}
	addrs := make(map[int64]bool)
	for _, a := range s.state.addresses {
		if a.CategoryID == categoryID {
			addrs[a.ID] = true
		}
	}
	stats.Addresses = len(addrs)
	searches := make(map[int64]bool)
	for _, search := range s.state.searches {
		if !addrs[search.AddressID] {
			continue
		}
		searches[search.ID] = true
		stats.Searches++
		if !search.CreatedAt.Before(since) {
			stats.SearchesSince++
		}
		if stats.LastSearchAt == nil || search.CreatedAt.After(*stats.LastSearchAt) {
			created := search.CreatedAt
			stats.LastSearchAt = &created
		}
	}
	for _, r := range s.state.results {
		if r.WasFound && searches[r.SearchID] {
			stats.ItemsFound++
		}
	}
	return stats, nil
}

// InTx runs fn with exclusive access. Writes are discarded when fn fails.
func (s *CatalogStore) InTx(ctx context.Context, fn func(ctx context.Context, tx catalog.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.state.clone()
	if err := fn(ctx, &memTx{store: s}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// Items returns every item sorted by ID.
func (s *CatalogStore) Items() []catalog.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]catalog.Item, 0, len(s.state.items))
	for _, it := range s.state.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ItemUpdates returns the history of one item in insertion order.
func (s *CatalogStore) ItemUpdates(itemID int64) []catalog.ItemUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []catalog.ItemUpdate
	for _, u := range s.state.updates {
		if u.ItemID == itemID {
			out = append(out, u)
		}
	}
	return out
}

// SearchResults returns the results recorded for one search.
func (s *CatalogStore) SearchResults(searchID int64) []catalog.SearchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []catalog.SearchResult
	for _, r := range s.state.results {
		if r.SearchID == searchID {
			out = append(out, r)
		}
	}
	return out
}

// memTx runs with CatalogStore.mu held.
type memTx struct {
	store *CatalogStore
}

func (t *memTx) FindItemByURL(_ context.Context, url string) (catalog.Item, error) {
	st := t.store.state
	id, ok := st.itemsByURL[url]
	if !ok {
		return catalog.Item{}, catalog.ErrNotFound
	}
	return st.items[id], nil
}

func (t *memTx) CreateItem(_ context.Context, item catalog.Item) (catalog.Item, error) {
	st := t.store.state
	if _, ok := st.itemsByURL[item.URL]; ok {
		return catalog.Item{}, catalog.ErrItemExists
	}
	if err := validateItem(item); err != nil {
		return catalog.Item{}, err
	}
	now := t.store.now()
	item.ID = st.id()
	item.CreatedAt = now
	item.UpdatedAt = now
	st.items[item.ID] = item
	st.itemsByURL[item.URL] = item.ID
	return item, nil
}

func (t *memTx) UpdateItem(_ context.Context, item catalog.Item) error {
	st := t.store.state
	existing, ok := st.items[item.ID]
	if !ok {
		return fmt.Errorf("item %d: %w", item.ID, catalog.ErrNotFound)
	}
	if err := validateItem(item); err != nil {
		return err
	}
	existing.Title = item.Title
	existing.Price = item.Price
	existing.Currency = item.Currency
	existing.UpdatedAt = t.store.now()
	st.items[item.ID] = existing
	return nil
}

func (t *memTx) AppendItemUpdate(_ context.Context, update catalog.ItemUpdate) error {
	st := t.store.state
	if _, ok := st.items[update.ItemID]; !ok {
		return fmt.Errorf("item %d: %w", update.ItemID, catalog.ErrNotFound)
	}
	update.ID = st.id()
	update.CreatedAt = t.store.now()
	st.updates = append(st.updates, update)
	return nil
}

func (t *memTx) CreateSearchResult(_ context.Context, result catalog.SearchResult) error {
	st := t.store.state
	if _, ok := st.searches[result.SearchID]; !ok {
		return fmt.Errorf("search %d: %w", result.SearchID, catalog.ErrNotFound)
	}
	if _, ok := st.items[result.ItemID]; !ok {
		return fmt.Errorf("item %d: %w", result.ItemID, catalog.ErrNotFound)
	}
	result.ID = st.id()
	result.CreatedAt = t.store.now()
	st.results = append(st.results, result)
	return nil
}

func (t *memTx) FinishSearch(_ context.Context, searchID int64) error {
	st := t.store.state
	search, ok := st.searches[searchID]
	if !ok {
		return fmt.Errorf("search %d: %w", searchID, catalog.ErrNotFound)
	}
	if search.Finished {
		return catalog.ErrSearchFinished
	}
	search.Finished = true
	st.searches[searchID] = search
	return nil
}

func (t *memTx) Savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	snapshot := t.store.state.clone()
	if err := fn(ctx); err != nil {
		t.store.state = snapshot
		return err
	}
	return nil
}

func validateItem(item catalog.Item) error {
	if item.URL == "" {
		return errors.New("item url is required")
	}
	if utf8.RuneCountInString(item.Title) > maxTitleLen {
		return fmt.Errorf("title exceeds %d characters", maxTitleLen)
	}
	if len(item.Currency) != 3 {
		return fmt.Errorf("currency %q is not a 3-letter code", item.Currency)
	}
	if item.Price.IsNegative() {
		return errors.New("price must not be negative")
	}
	return nil
}
