package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/classifieds-crawler/internal/catalog"
	"github.com/JakeFAU/classifieds-crawler/internal/orchestrator"
)

const testConfigYAML = `
logging:
  development: false
  level: error
notify:
  provider: memory
categories:
  - name: bikes
    addresses:
      - name: olx
        site: olx
        url: https://www.olx.pl/rowery/
      - name: gumtree
        site: gumtree
        url: https://www.gumtree.pl/s-rowery/v1c9150p1
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSeedCommand(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "seed", "--config", writeConfig(t, testConfigYAML))
	require.NoError(t, err)
	require.Contains(t, out, "seeded 1 categories and 2 addresses")
}

func TestSeedCommandWithoutCategories(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "seed", "--config", writeConfig(t, "logging:\n  level: error\n"))
	require.ErrorContains(t, err, "no categories configured")
}

func TestBadConfigFails(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "seed", "--config", writeConfig(t, "server:\n  port: -1\n"))
	require.ErrorContains(t, err, "server.port")
}

func TestSearchCommandRequiresCategory(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "search", "--config", writeConfig(t, testConfigYAML))
	require.Error(t, err)

	_, err = execute(t, "search", "--category", "0", "--config", writeConfig(t, testConfigYAML))
	require.ErrorContains(t, err, "--category")
}

func TestSearchCommandUnknownCategory(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "search", "--category", "42", "--config", writeConfig(t, testConfigYAML))
	require.ErrorIs(t, err, catalog.ErrNotFound)
	require.NotContains(t, out, "items_found")
}

//nolint:paralleltest // swaps the package-level migrate func
func TestMigrateCommand(t *testing.T) {
	orig := migrate
	t.Cleanup(func() { migrate = orig })

	var gotDSN string
	migrate = func(dsn string) (uint, bool, error) {
		gotDSN = dsn
		return 1, false, nil
	}
	pg := "store:\n  provider: postgres\n  dsn: postgres://crawler@localhost/classifieds\nlogging:\n  level: error\n"
	out, err := execute(t, "migrate", "--config", writeConfig(t, pg))
	require.NoError(t, err)
	require.Equal(t, "postgres://crawler@localhost/classifieds", gotDSN)
	require.Contains(t, out, "schema at version 1 (dirty=false)")

	migrate = func(string) (uint, bool, error) { return 0, false, errors.New("no database") }
	_, err = execute(t, "migrate", "--config", writeConfig(t, pg))
	require.ErrorContains(t, err, "no database")

	_, err = execute(t, "migrate", "--config", writeConfig(t, testConfigYAML))
	require.ErrorContains(t, err, "store.provider=postgres")
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	res := orchestrator.Result{
		Category:   catalog.Category{ID: 3, Name: "bikes"},
		ItemsFound: 5,
		Notified:   true,
		Addresses: []orchestrator.AddressResult{
			{Address: catalog.Address{ID: 1}, SearchID: 10, Pages: 2, Created: 5, Found: 5},
			{Address: catalog.Address{ID: 2}, Err: errors.New("fetch page 1: status 503")},
		},
	}
	b, err := json.Marshal(summarize(res))
	require.NoError(t, err)
	require.JSONEq(t, `{
		"category_id": 3, "category": "bikes", "items_found": 5, "notified": true,
		"addresses": [
			{"address_id": 1, "search_id": 10, "pages": 2, "skipped": 0, "created": 5, "updated": 0, "failed": 0, "found": 5},
			{"address_id": 2, "pages": 0, "skipped": 0, "created": 0, "updated": 0, "failed": 0, "found": 0, "error": "fetch page 1: status 503"}
		]
	}`, string(b))
}
