package site

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/classifieds-crawler/internal/catalog"
)

const gumtreeOrigin = "https://www.gumtree.pl"

// Gumtree parses list-based Gumtree result pages.
type Gumtree struct {
	origin string
}

// NewGumtree returns the Gumtree parser.
func NewGumtree() *Gumtree {
	return &Gumtree{origin: gumtreeOrigin}
}

// Kind implements Parser.
func (p *Gumtree) Kind() catalog.SiteKind { return catalog.SiteGumtree }

// PageURL implements Parser.
func (p *Gumtree) PageURL(address catalog.Address, page int) (string, error) {
	return withPage(address.URL, "page", page)
}

// ParsePageCount takes the greatest numeric label in the pagination bar.
// Labels such as "next" or "..." are ignored.
func (p *Gumtree) ParsePageCount(body []byte) int {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 1
	}
	pages := 1
	doc.Find("nav.pagination a, nav.pagination span").Each(func(_ int, s *goquery.Selection) {
		if n := atoiPositive(s.Text()); n > pages {
			pages = n
		}
	})
	return pages
}

// ParseItems extracts every listing row.
func (p *Gumtree) ParseItems(body []byte) ([]catalog.ScrapedItem, []error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, []error{p.parseErr("page", "", err)}
	}
	var (
		items   []catalog.ScrapedItem
		skipped []error
	)
	doc.Find("ul.listing-list li.listing").Each(func(_ int, row *goquery.Selection) {
		item, err := p.parseRow(row)
		if err != nil {
			skipped = append(skipped, err)
			return
		}
		items = append(items, item)
	})
	return items, skipped
}

func (p *Gumtree) parseRow(row *goquery.Selection) (catalog.ScrapedItem, error) {
	link := row.Find("a.listing-title").First()
	href, ok := link.Attr("href")
	if !ok {
		return catalog.ScrapedItem{}, p.parseErr("url", "", errors.New("missing link"))
	}
	itemURL, err := Absolutize(p.origin, href)
	if err != nil {
		return catalog.ScrapedItem{}, p.parseErr("url", href, err)
	}
	title := strings.Join(strings.Fields(link.Text()), " ")
	if title == "" {
		return catalog.ScrapedItem{}, p.parseErr("title", itemURL, errors.New("missing title"))
	}
	priceText := row.Find("span.listing-price").First().Text()
	price, currency, err := ParsePrice(priceText, ".")
	if err != nil {
		return catalog.ScrapedItem{}, p.parseErr("price", priceText, err)
	}
	return catalog.ScrapedItem{
		URL:      itemURL,
		Title:    title,
		Price:    price,
		Currency: currency,
	}, nil
}

func (p *Gumtree) parseErr(field, input string, err error) error {
	return &catalog.ParseError{Site: catalog.SiteGumtree, Field: field, Input: input, Err: fmt.Errorf("gumtree: %w", err)}
}
