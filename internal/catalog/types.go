// Package catalog defines the domain types and ports shared by the crawler
// pipeline: categories, addresses, searches, items and their history.
package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// SiteKind identifies the listing site an address points at.
type SiteKind string

// Supported listing sites.
const (
	SiteOLX     SiteKind = "OLX"
	SiteGumtree SiteKind = "GUMTREE"
	SiteVinted  SiteKind = "VINTED"
)

// Category groups addresses that are searched together.
type Category struct {
	ID              int64         `json:"id"`
	Name            string        `json:"name"`
	SearchFrequency time.Duration `json:"search_frequency"`
}

// Address is a single listing URL to crawl on one site.
type Address struct {
	ID         int64    `json:"id"`
	CategoryID int64    `json:"category_id"`
	Site       SiteKind `json:"site"`
	Name       string   `json:"name"`
	URL        string   `json:"url"`
}

// SearchState is the lifecycle position of a search run.
type SearchState string

// Search states. A search never moves backwards.
const (
	SearchCreated  SearchState = "created"
	SearchRunning  SearchState = "running"
	SearchFinished SearchState = "finished"
)

// Search records one execution of an address crawl.
type Search struct {
	ID        int64     `json:"id"`
	AddressID int64     `json:"address_id"`
	CreatedAt time.Time `json:"created_at"`
	Finished  bool      `json:"finished"`
}

// State derives the lifecycle state from the persisted flag. A search that
// has a row is at least running.
func (s Search) State() SearchState {
	switch {
	case s.ID == 0:
		return SearchCreated
	case s.Finished:
		return SearchFinished
	default:
		return SearchRunning
	}
}

// SearchResult links a search to an item it observed.
type SearchResult struct {
	ID        int64     `json:"id"`
	SearchID  int64     `json:"search_id"`
	ItemID    int64     `json:"item_id"`
	WasFound  bool      `json:"was_found"`
	CreatedAt time.Time `json:"created_at"`
}

// Item is the catalog entry for one listing, keyed by URL.
type Item struct {
	ID        int64           `json:"id"`
	URL       string          `json:"url"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ItemUpdate is an immutable history entry describing changed fields.
type ItemUpdate struct {
	ID        int64     `json:"id"`
	ItemID    int64     `json:"item_id"`
	Changes   string    `json:"changes"`
	CreatedAt time.Time `json:"created_at"`
}

// ScrapedItem is a parser's view of a listing before reconciliation.
type ScrapedItem struct {
	URL      string
	Title    string
	Price    decimal.Decimal
	Currency string
}

// Notification is the payload handed to the notifier after a category run.
type Notification struct {
	Head string `json:"head"`
	Body string `json:"body"`
	URL  string `json:"url"`
}

// CategoryStats summarizes search activity for a category.
type CategoryStats struct {
	CategoryID    int64      `json:"category_id"`
	Addresses     int        `json:"addresses"`
	Searches      int        `json:"searches"`
	SearchesSince int        `json:"searches_since"`
	ItemsFound    int        `json:"items_found"`
	LastSearchAt  *time.Time `json:"last_search_at,omitempty"`
}

// RunRequest asks a worker to run one category.
type RunRequest struct {
	ID         string    `json:"id"`
	CategoryID int64     `json:"category_id"`
	Submitted  time.Time `json:"submitted_at"`
}
