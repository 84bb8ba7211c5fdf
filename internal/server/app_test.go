package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/classifieds-crawler/internal/catalog"
	"github.com/JakeFAU/classifieds-crawler/internal/config"
)

func testConfig(t *testing.T, listingURL string) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.HTTP.Delay = 0
	cfg.HTTP.RPSPerDomain = 0
	cfg.HTTP.RequestTimeout = 5 * time.Second
	cfg.Notify.Provider = config.ProviderMemory
	cfg.Categories = []config.CategoryConfig{{
		Name: "bikes",
		Addresses: []config.AddressConfig{
			{Name: "olx", Site: "olx", URL: listingURL},
		},
	}}
	return &cfg
}

func listingServer(t *testing.T) *httptest.Server {
	t.Helper()
	page, err := os.ReadFile("../site/testdata/olx_page1.html")
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(page)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBuildSeedsMemoryStore(t *testing.T) {
	t.Parallel()

	app, err := BuildWithLogger(context.Background(), testConfig(t, "https://www.olx.pl/rowery/"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	categories, err := app.Store().ListCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, categories, 1)
	require.Equal(t, "bikes", categories[0].Name)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRunCategoryWithArchiveAndRedisLocks(t *testing.T) {
	t.Parallel()

	srv := listingServer(t)
	mr := miniredis.RunT(t)
	dir := t.TempDir()

	cfg := testConfig(t, srv.URL+"/rowery/")
	cfg.Search.MaxPages = 1
	cfg.Lock.Provider = config.ProviderRedis
	cfg.Lock.RedisAddr = mr.Addr()
	cfg.Archive.Provider = config.ProviderLocal
	cfg.Archive.Dir = dir

	app, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	res, err := app.RunCategory(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, res.Addresses, 1)
	require.Equal(t, 1, res.Addresses[0].Pages)
	require.Positive(t, res.ItemsFound)
	require.True(t, res.Notified)

	search, err := app.Store().GetSearch(context.Background(), res.Addresses[0].SearchID)
	require.NoError(t, err)
	require.Equal(t, catalog.SearchFinished, search.State())

	archived, err := filepath.Glob(filepath.Join(dir, "pages", "*", "1-*.html"))
	require.NoError(t, err)
	require.Len(t, archived, 1)
	require.Empty(t, mr.Keys())
}

func TestRunCategoryUnknown(t *testing.T) {
	t.Parallel()

	app, err := BuildWithLogger(context.Background(), testConfig(t, "https://www.olx.pl/rowery/"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	_, err = app.RunCategory(context.Background(), 99)
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestBuildFailsOnUnreachableRedis(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig(t, "https://www.olx.pl/rowery/")
	cfg.Lock.Provider = config.ProviderRedis
	cfg.Lock.RedisAddr = addr

	_, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "redis ping failed")
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "https://www.olx.pl/rowery/")
	cfg.Server.Port = freePort(t)
	app, err := BuildWithLogger(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}
