// Package site holds the per-site listing parsers and the registry that maps
// an address's site to its parser.
package site

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/JakeFAU/classifieds-crawler/internal/catalog"
)

// Parser extracts pagination and listings from one site's pages. Parsers are
// stateless and safe for concurrent use.
type Parser interface {
	Kind() catalog.SiteKind
	// PageURL returns the URL of the given 1-based page of an address.
	PageURL(address catalog.Address, page int) (string, error)
	// ParsePageCount returns the number of result pages, 1 when the page
	// has no usable pagination control.
	ParsePageCount(body []byte) int
	// ParseItems returns the listings on a page. Listings that fail to
	// parse are dropped and reported in skipped.
	ParseItems(body []byte) (items []catalog.ScrapedItem, skipped []error)
}

// Registry maps site kinds to parsers.
type Registry struct {
	parsers map[catalog.SiteKind]Parser
}

// NewRegistry builds a Registry from the given parsers. Later parsers
// replace earlier ones of the same kind.
func NewRegistry(parsers ...Parser) *Registry {
	r := &Registry{parsers: make(map[catalog.SiteKind]Parser, len(parsers))}
	for _, p := range parsers {
		r.parsers[p.Kind()] = p
	}
	return r
}

// Default returns a registry with every built-in site.
func Default() *Registry {
	return NewRegistry(NewOLX(), NewGumtree(), NewVinted())
}

// Lookup returns the parser for kind.
func (r *Registry) Lookup(kind catalog.SiteKind) (Parser, error) {
	p, ok := r.parsers[kind]
	if !ok {
		return nil, fmt.Errorf("site %q: %w", kind, catalog.ErrUnknownSite)
	}
	return p, nil
}

// Kinds lists the registered site kinds in sorted order.
func (r *Registry) Kinds() []catalog.SiteKind {
	kinds := make([]catalog.SiteKind, 0, len(r.parsers))
	for k := range r.parsers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Absolutize resolves href against origin and drops any fragment.
func Absolutize(origin, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", fmt.Errorf("empty href")
	}
	base, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("parse origin: %w", err)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	u := base.ResolveReference(ref)
	u.Fragment = ""
	return u.String(), nil
}

// withPage sets the page query parameter on rawURL.
func withPage(rawURL, param string, page int) (string, error) {
	if page < 1 {
		return "", fmt.Errorf("page must be >= 1, got %d", page)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse address url: %w", err)
	}
	q := u.Query()
	q.Set(param, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// atoiPositive parses a page label, returning 0 for anything that is not a
// positive integer.
func atoiPositive(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return 0
	}
	return n
}
