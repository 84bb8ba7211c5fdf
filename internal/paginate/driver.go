// Package paginate drives page discovery for one address: it fetches the
// first page, derives the page count, fans out over the remaining pages and
// hands every body to the site parser.
package paginate

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/classifieds-crawler/internal/catalog"
	"github.com/JakeFAU/classifieds-crawler/internal/metrics"
	"github.com/JakeFAU/classifieds-crawler/internal/site"
)

const archiveContentType = "text/html; charset=utf-8"

// Config controls fan-out and archiving.
type Config struct {
	// PageConcurrency bounds concurrent page fetches within one address.
	PageConcurrency int
	// MaxPages caps the derived page count. Zero means no cap.
	MaxPages int
	// ArchivePrefix is prepended to archived page paths.
	ArchivePrefix string
}

// Options carries per-run values.
type Options struct {
	SearchID int64
}

// Result is the outcome of one address run.
type Result struct {
	Items   []catalog.ScrapedItem
	Pages   int
	Skipped int
}

// Driver runs addresses against their site parsers.
type Driver struct {
	fetcher catalog.Fetcher
	parsers *site.Registry
	archive catalog.BlobStore
	hasher  catalog.Hasher
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Driver. archive and hasher may be nil to disable page archiving.
func New(
	fetcher catalog.Fetcher,
	parsers *site.Registry,
	archive catalog.BlobStore,
	hasher catalog.Hasher,
	cfg Config,
	logger *zap.Logger,
) *Driver {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PageConcurrency <= 0 {
		cfg.PageConcurrency = 1
	}
	return &Driver{
		fetcher: fetcher,
		parsers: parsers,
		archive: archive,
		hasher:  hasher,
		cfg:     cfg,
		logger:  logger.Named("paginate"),
	}
}

// RunAddress fetches every result page of address and returns the parsed
// listings. Any page fetch failure aborts the run; listings that fail to
// parse are logged and dropped. Item order is not meaningful.
func (d *Driver) RunAddress(ctx context.Context, address catalog.Address, opts Options) (Result, error) {
	parser, err := d.parsers.Lookup(address.Site)
	if err != nil {
		return Result{}, fmt.Errorf("address %d: %w", address.ID, err)
	}
	logger := d.logger.With(
		zap.Int64("address_id", address.ID),
		zap.String("site", string(address.Site)),
		zap.Int64("search_id", opts.SearchID),
	)

	sess, err := d.fetcher.Open(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("open fetch session: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			logger.Warn("close fetch session failed", zap.Error(cerr))
		}
	}()

	first, err := d.fetchPage(ctx, sess, parser, address, 1)
	if err != nil {
		return Result{}, err
	}

	count := parser.ParsePageCount(first)
	if d.cfg.MaxPages > 0 && count > d.cfg.MaxPages {
		logger.Warn("page count capped", zap.Int("pages", count), zap.Int("max_pages", d.cfg.MaxPages))
		count = d.cfg.MaxPages
	}

	bodies := make([][]byte, count)
	bodies[0] = first

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.PageConcurrency)
	for page := 2; page <= count; page++ {
		g.Go(func() error {
			body, err := d.fetchPage(gctx, sess, parser, address, page)
			if err != nil {
				return err
			}
			bodies[page-1] = body
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{Pages: count}
	for i, body := range bodies {
		items, skipped := parser.ParseItems(body)
		for _, perr := range skipped {
			logger.Warn("listing skipped", zap.Int("page", i+1), zap.Error(perr))
		}
		res.Skipped += len(skipped)
		res.Items = append(res.Items, items...)
		d.archivePage(ctx, logger, opts.SearchID, i+1, body)
	}
	metrics.ObserveParseSkips(string(address.Site), res.Skipped)
	logger.Info("address pages parsed",
		zap.Int("pages", res.Pages),
		zap.Int("items", len(res.Items)),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func (d *Driver) fetchPage(
	ctx context.Context,
	sess catalog.Session,
	parser site.Parser,
	address catalog.Address,
	page int,
) ([]byte, error) {
	pageURL, err := parser.PageURL(address, page)
	if err != nil {
		return nil, fmt.Errorf("address %d page %d url: %w", address.ID, page, err)
	}
	body, err := sess.Get(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("address %d page %d: %w", address.ID, page, err)
	}
	return body, nil
}

func (d *Driver) archivePage(ctx context.Context, logger *zap.Logger, searchID int64, page int, body []byte) {
	if d.archive == nil || d.hasher == nil {
		return
	}
	hash, err := d.hasher.Hash(body)
	if err != nil {
		logger.Warn("hash page failed", zap.Int("page", page), zap.Error(err))
		return
	}
	path := archivePath(d.cfg.ArchivePrefix, searchID, page, hash)
	uri, err := d.archive.PutObject(ctx, path, archiveContentType, bytes.NewReader(body))
	if err != nil {
		logger.Warn("archive page failed", zap.Int("page", page), zap.Error(err))
		return
	}
	logger.Debug("page archived", zap.Int("page", page), zap.String("uri", uri))
}

func archivePath(prefix string, searchID int64, page int, hash string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%d/%d-%s.html", searchID, page, hash)
	}
	return fmt.Sprintf("%s/%d/%d-%s.html", prefix, searchID, page, hash)
}
