package site

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/JakeFAU/classifieds-crawler/internal/catalog"
)

const (
	vintedOrigin     = "https://www.vinted.pl"
	vintedItemsPath  = "props.pageProps.catalog.items"
	vintedPagesPath  = "props.pageProps.catalog.pagination.total_pages"
	vintedDataScript = "script#__NEXT_DATA__"
)

var errNoDataIsland = errors.New("missing __NEXT_DATA__ island")

// Vinted reads listings from the JSON data island embedded in catalog pages.
type Vinted struct {
	origin string
}

// NewVinted returns the Vinted parser.
func NewVinted() *Vinted {
	return &Vinted{origin: vintedOrigin}
}

// Kind implements Parser.
func (p *Vinted) Kind() catalog.SiteKind { return catalog.SiteVinted }

// PageURL implements Parser.
func (p *Vinted) PageURL(address catalog.Address, page int) (string, error) {
	return withPage(address.URL, "page", page)
}

// ParsePageCount implements Parser.
func (p *Vinted) ParsePageCount(body []byte) int {
	data, err := p.island(body)
	if err != nil {
		return 1
	}
	if n := gjson.Get(data, vintedPagesPath).Int(); n > 1 {
		return int(n)
	}
	return 1
}

// ParseItems implements Parser.
func (p *Vinted) ParseItems(body []byte) ([]catalog.ScrapedItem, []error) {
	data, err := p.island(body)
	if err != nil {
		return nil, []error{p.parseErr("page", "", err)}
	}
	var (
		items   []catalog.ScrapedItem
		skipped []error
	)
	gjson.Get(data, vintedItemsPath).ForEach(func(_, entry gjson.Result) bool {
		item, err := p.parseEntry(entry)
		if err != nil {
			skipped = append(skipped, err)
			return true
		}
		items = append(items, item)
		return true
	})
	return items, skipped
}

func (p *Vinted) parseEntry(entry gjson.Result) (catalog.ScrapedItem, error) {
	href := entry.Get("url").String()
	itemURL, err := Absolutize(p.origin, href)
	if err != nil {
		return catalog.ScrapedItem{}, p.parseErr("url", href, err)
	}
	title := strings.TrimSpace(entry.Get("title").String())
	if title == "" {
		return catalog.ScrapedItem{}, p.parseErr("title", itemURL, errors.New("missing title"))
	}
	amount := entry.Get("price.amount").String()
	price, err := decimal.NewFromString(amount)
	if err != nil {
		return catalog.ScrapedItem{}, p.parseErr("price", amount, errNoAmount)
	}
	if price.IsNegative() {
		return catalog.ScrapedItem{}, p.parseErr("price", amount, errNegativePrice)
	}
	if price.GreaterThanOrEqual(maxPrice) {
		return catalog.ScrapedItem{}, p.parseErr("price", amount, errPriceRange)
	}
	currency, err := normalizeCurrency(entry.Get("price.currency_code").String())
	if err != nil {
		return catalog.ScrapedItem{}, p.parseErr("currency", entry.Get("price.currency_code").String(), err)
	}
	return catalog.ScrapedItem{
		URL:      itemURL,
		Title:    title,
		Price:    price.Round(2),
		Currency: currency,
	}, nil
}

func (p *Vinted) island(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	data := strings.TrimSpace(doc.Find(vintedDataScript).First().Text())
	if data == "" {
		return "", errNoDataIsland
	}
	if !gjson.Valid(data) {
		return "", errors.New("invalid __NEXT_DATA__ json")
	}
	return data, nil
}

func (p *Vinted) parseErr(field, input string, err error) error {
	return &catalog.ParseError{Site: catalog.SiteVinted, Field: field, Input: input, Err: fmt.Errorf("vinted: %w", err)}
}
