package site

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/classifieds-crawler/internal/catalog"
)

const olxOrigin = "https://www.olx.pl"

// OLX parses card-based OLX listing pages.
type OLX struct {
	origin string
}

// NewOLX returns the OLX parser.
func NewOLX() *OLX {
	return &OLX{origin: olxOrigin}
}

// Kind implements Parser.
func (p *OLX) Kind() catalog.SiteKind { return catalog.SiteOLX }

// PageURL implements Parser.
func (p *OLX) PageURL(address catalog.Address, page int) (string, error) {
	return withPage(address.URL, "page", page)
}

// ParsePageCount reads the label of the last pagination item.
func (p *OLX) ParsePageCount(body []byte) int {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 1
	}
	last := doc.Find(`li[data-testid="pagination-list-item"]`).Last()
	if last.Length() == 0 {
		return 1
	}
	if n := atoiPositive(last.Text()); n > 0 {
		return n
	}
	return 1
}

// ParseItems extracts every l-card on the page.
func (p *OLX) ParseItems(body []byte) ([]catalog.ScrapedItem, []error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, []error{p.parseErr("page", "", err)}
	}
	var (
		items   []catalog.ScrapedItem
		skipped []error
	)
	doc.Find(`div[data-testid="l-card"]`).Each(func(_ int, card *goquery.Selection) {
		item, err := p.parseCard(card)
		if err != nil {
			skipped = append(skipped, err)
			return
		}
		items = append(items, item)
	})
	return items, skipped
}

func (p *OLX) parseCard(card *goquery.Selection) (catalog.ScrapedItem, error) {
	link := card.Find(`div[data-cy="ad-card-title"] a`).First()
	href, ok := link.Attr("href")
	if !ok {
		return catalog.ScrapedItem{}, p.parseErr("url", "", errors.New("missing link"))
	}
	itemURL, err := Absolutize(p.origin, href)
	if err != nil {
		return catalog.ScrapedItem{}, p.parseErr("url", href, err)
	}

	title := strings.TrimSpace(link.Find("h4").First().Text())
	if title == "" {
		title = strings.TrimSpace(link.Find("h6").First().Text())
	}
	if title == "" {
		return catalog.ScrapedItem{}, p.parseErr("title", itemURL, errors.New("missing title"))
	}

	// The price paragraph may carry a nested "negotiable" label.
	priceSel := card.Find(`p[data-testid="ad-price"]`).First()
	if priceSel.Length() == 0 {
		return catalog.ScrapedItem{}, p.parseErr("price", itemURL, errors.New("missing price"))
	}
	priceText := priceSel.Clone().Children().Remove().End().Text()
	if strings.TrimSpace(priceText) == "" {
		priceText = priceSel.Text()
	}
	price, currency, err := ParsePrice(priceText, " ")
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

func (p *OLX) parseErr(field, input string, err error) error {
	return &catalog.ParseError{Site: catalog.SiteOLX, Field: field, Input: input, Err: fmt.Errorf("olx: %w", err)}
}
