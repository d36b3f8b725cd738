// Package fx provides close-of-day FX rates per EUR, with a last-known-good
// snapshot cache so a rate outage degrades instead of blocking extraction.
package fx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/heroics-capital/treasury-recon/internal/recon"
)

// Rates maps a currency code to its amount per 1 EUR. EUR is always present
// with rate 1.
type Rates map[string]float64

// Convert returns the EUR value of an amount in the given currency, or
// ok=false when the currency is not quoted.
func (r Rates) Convert(amount float64, currency string) (eur float64, rate float64, ok bool) {
	rate, ok = r[strings.ToUpper(strings.TrimSpace(currency))]
	if !ok || rate == 0 {
		return 0, 0, false
	}
	return amount / rate, rate, true
}

// Client is the FX-rate collaborator consumed by extraction adapters.
type Client interface {
	RatesFor(ctx context.Context, date time.Time) (Rates, error)
}

// Options configures the HTTP client.
type Options struct {
	BaseURL    string
	Currencies []string
	CachePath  string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type httpClient struct {
	opts Options
	http *http.Client
}

// New creates a rate client backed by a frankfurter-style HTTP API and a
// JSON snapshot cache.
func New(opts Options) Client {
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &httpClient{opts: opts, http: hc}
}

type apiResponse struct {
	Rates map[string]float64 `json:"rates"`
}

type snapshot struct {
	Date  string `json:"date"`
	Rates Rates  `json:"rates"`
}

// RatesFor fetches per-EUR close rates for the date. On success the snapshot
// cache is refreshed; on failure the last-known-good snapshot is returned
// with a warning, and an error only when no snapshot exists either.
func (c *httpClient) RatesFor(ctx context.Context, date time.Time) (Rates, error) {
	rates, err := c.fetch(ctx, date)
	if err == nil {
		c.writeSnapshot(date, rates)
		return rates, nil
	}

	cached, cacheErr := c.readSnapshot()
	if cacheErr != nil {
		return nil, eris.Wrapf(err, "fx: fetch failed and no usable snapshot (%v)", cacheErr)
	}
	zap.L().Warn("fx fetch failed, using last-known-good snapshot",
		zap.String("date", recon.FormatDate(date)),
		zap.Error(err),
	)
	return cached, nil
}

func (c *httpClient) fetch(ctx context.Context, date time.Time) (Rates, error) {
	params := url.Values{
		"base":    {"EUR"},
		"symbols": {strings.Join(c.opts.Currencies, ",")},
	}
	reqURL := fmt.Sprintf("%s/%s?%s", strings.TrimRight(c.opts.BaseURL, "/"), recon.FormatDate(date), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fx: build request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "fx: GET %s", reqURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("fx: GET %s returned %d", reqURL, resp.StatusCode)
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, eris.Wrap(err, "fx: decode response")
	}
	if len(body.Rates) == 0 {
		return nil, eris.Errorf("fx: empty rates for %s", recon.FormatDate(date))
	}

	rates := make(Rates, len(body.Rates)+1)
	rates["EUR"] = 1.0
	for ccy, v := range body.Rates {
		rates[strings.ToUpper(ccy)] = v
	}
	return rates, nil
}

func (c *httpClient) readSnapshot() (Rates, error) {
	if c.opts.CachePath == "" {
		return nil, errors.New("no snapshot path configured")
	}
	data, err := os.ReadFile(c.opts.CachePath)
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	if len(snap.Rates) == 0 {
		return nil, errors.New("empty snapshot")
	}
	return snap.Rates, nil
}

func (c *httpClient) writeSnapshot(date time.Time, rates Rates) {
	if c.opts.CachePath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.opts.CachePath), 0o755); err != nil {
		zap.L().Warn("fx snapshot dir", zap.Error(err))
		return
	}
	data, err := json.MarshalIndent(snapshot{Date: recon.FormatDate(date), Rates: rates}, "", "  ")
	if err != nil {
		zap.L().Warn("fx snapshot marshal", zap.Error(err))
		return
	}
	if err := os.WriteFile(c.opts.CachePath, data, 0o644); err != nil {
		zap.L().Warn("fx snapshot write", zap.Error(err))
	}
}
