package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if crawlerPagesTotal == nil || crawlerItemsTotal == nil ||
		httpRequestsTotal == nil || crawlerLockWaitSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	ObservePage("https://www.olx.pl/rowery/?page=2", "200", 512, 150*time.Millisecond)
	if val := testutil.ToFloat64(crawlerPagesTotal.WithLabelValues("www.olx.pl", "200")); val != 1 {
		t.Errorf("Expected crawlerPagesTotal to be 1, got %f", val)
	}
	if val := testutil.ToFloat64(crawlerBytesTotal.WithLabelValues("www.olx.pl")); val != 512 {
		t.Errorf("Expected crawlerBytesTotal to be 512, got %f", val)
	}
}

func TestObserveItemAndSkips(t *testing.T) {
	Init()

	ObserveItem(ItemCreated)
	ObserveItem(ItemCreated)
	ObserveItem(ItemUnchanged)
	ObserveParseSkips("OLX", 3)
	ObserveParseSkips("OLX", 0)

	if val := testutil.ToFloat64(crawlerItemsTotal.WithLabelValues(ItemCreated)); val != 2 {
		t.Errorf("Expected 2 created items, got %f", val)
	}
	if val := testutil.ToFloat64(crawlerParseSkipsTotal.WithLabelValues("OLX")); val != 3 {
		t.Errorf("Expected 3 parse skips, got %f", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
