package catalog

import (
	"context"
	"io"
	"time"
)

// Store persists the catalog and opens address-run transactions.
type Store interface {
	GetCategory(ctx context.Context, id int64) (Category, error)
	ListCategories(ctx context.Context) ([]Category, error)
	ListAddresses(ctx context.Context, categoryID int64) ([]Address, error)
	UpsertCategory(ctx context.Context, category Category) (Category, error)
	UpsertAddress(ctx context.Context, address Address) (Address, error)
	CreateSearch(ctx context.Context, addressID int64, createdAt time.Time) (Search, error)
	GetSearch(ctx context.Context, id int64) (Search, error)
	CountFound(ctx context.Context, searchID int64) (int, error)
	CategoryStats(ctx context.Context, categoryID int64, since time.Time) (CategoryStats, error)
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the write side used while reconciling one address run.
type Tx interface {
	// FindItemByURL returns ErrNotFound when no item has the URL. The row
	// stays locked until the transaction ends.
	FindItemByURL(ctx context.Context, url string) (Item, error)
	// CreateItem returns ErrItemExists when another writer won the URL.
	CreateItem(ctx context.Context, item Item) (Item, error)
	UpdateItem(ctx context.Context, item Item) error
	AppendItemUpdate(ctx context.Context, update ItemUpdate) error
	CreateSearchResult(ctx context.Context, result SearchResult) error
	// FinishSearch returns ErrSearchFinished when the flag is already set.
	FinishSearch(ctx context.Context, searchID int64) error
	// Savepoint runs fn so that its writes are discarded when it fails,
	// leaving the enclosing transaction usable.
	Savepoint(ctx context.Context, fn func(ctx context.Context) error) error
}

// Fetcher opens fetch sessions scoped to one address run.
type Fetcher interface {
	Open(ctx context.Context) (Session, error)
}

// Session retrieves raw page bodies.
type Session interface {
	Get(ctx context.Context, url string) ([]byte, error)
	Close() error
}

// Notifier delivers run notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Locker serializes work on a set of keys. Keys are acquired in sorted
// order, so overlapping callers cannot deadlock.
type Locker interface {
	Lock(ctx context.Context, keys []string) (unlock func(), err error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Queue provides enqueue/dequeue semantics for run requests.
type Queue interface {
	Enqueue(ctx context.Context, req RunRequest) error
	Dequeue(ctx context.Context) (RunRequest, error)
}

// Hasher computes digests for archive keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run request IDs.
type IDGenerator interface {
	NewID() (string, error)
}
