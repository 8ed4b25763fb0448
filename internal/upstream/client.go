package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"QuotePull/internal/domain/models"
)

// userAgents is rotated per request so rotated source IPs do not all present
// the same browser fingerprint.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
}

// ClientConfig holds upstream client tuning.
type ClientConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	Adjust         models.Adjust
	Classifier     ClassifierConfig
}

// Client fetches one stock's daily kline series through a caller-supplied
// proxy. HTTP clients are cached per proxy address so connections are reused
// across calls to the same relay.
type Client struct {
	cfg        ClientConfig
	classifier *Classifier

	mu      sync.Mutex
	clients map[string]*http.Client
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.Adjust == "" {
		cfg.Adjust = models.AdjustForward
	}
	return &Client{
		cfg:        cfg,
		classifier: NewClassifier(cfg.Classifier),
		clients:    make(map[string]*http.Client),
	}
}

type klineResponse struct {
	Data *struct {
		Code   string   `json:"code"`
		Klines []string `json:"klines"`
	} `json:"data"`
}

// FetchDaily retrieves the daily bars for one stock code via the given proxy.
// The verdict is meaningful even when err is non-nil: it tells the caller how
// to treat the proxy that carried the request.
func (c *Client) FetchDaily(ctx context.Context, code string, via *url.URL) (*models.DailyBars, Verdict, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL(code), nil)
	if err != nil {
		return nil, VerdictNetwork, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])
	req.Header.Set("Accept", "application/json, text/html, */*")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")

	resp, err := c.httpClient(via).Do(req)
	if err != nil {
		return nil, VerdictNetwork, fmt.Errorf("fetch %s: %w", code, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, VerdictNetwork, fmt.Errorf("read body for %s: %w", code, err)
	}

	if v := c.classifier.Classify(resp.StatusCode, body); v != VerdictOK {
		return nil, v, fmt.Errorf("fetch %s: upstream %s (status %d)", code, v, resp.StatusCode)
	}

	var parsed klineResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, VerdictMalformed, fmt.Errorf("decode %s: %w", code, err)
	}
	if parsed.Data == nil || len(parsed.Data.Klines) == 0 {
		return nil, VerdictMalformed, fmt.Errorf("fetch %s: empty kline payload", code)
	}

	bars := make([]models.DailyBar, 0, len(parsed.Data.Klines))
	for _, line := range parsed.Data.Klines {
		bar, err := parseKline(code, line, c.cfg.Adjust)
		if err != nil {
			return nil, VerdictMalformed, fmt.Errorf("parse %s: %w", code, err)
		}
		bars = append(bars, bar)
	}
	return &models.DailyBars{Code: code, Bars: bars}, VerdictOK, nil
}

func (c *Client) httpClient(via *url.URL) *http.Client {
	key := ""
	if via != nil {
		key = via.String()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if hc, ok := c.clients[key]; ok {
		return hc
	}
	tr := &http.Transport{MaxIdleConnsPerHost: 4}
	if via != nil {
		tr.Proxy = http.ProxyURL(via)
	}
	hc := &http.Client{Transport: tr, Timeout: c.cfg.RequestTimeout}
	c.clients[key] = hc
	return hc
}

func (c *Client) buildURL(code string) string {
	q := url.Values{}
	q.Set("secid", secID(code))
	q.Set("klt", "101") // daily bars
	q.Set("fqt", adjustParam(c.cfg.Adjust))
	q.Set("fields1", "f1,f2,f3")
	q.Set("fields2", "f51,f52,f53,f54,f55,f56,f57")
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/api/qt/stock/kline/get?" + q.Encode()
}

// secID prefixes the exchange market id: 1 for Shanghai, 0 for Shenzhen.
func secID(code string) string {
	if strings.HasPrefix(code, "6") || strings.HasPrefix(code, "9") {
		return "1." + code
	}
	return "0." + code
}

func adjustParam(a models.Adjust) string {
	switch a {
	case models.AdjustForward:
		return "1"
	case models.AdjustBack:
		return "2"
	default:
		return "0"
	}
}

// parseKline decodes one "date,open,close,high,low,volume,amount" row.
func parseKline(code, line string, adjust models.Adjust) (models.DailyBar, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 7 {
		return models.DailyBar{}, fmt.Errorf("kline %q: want 7 fields, got %d", line, len(fields))
	}

	tradeDate, err := time.Parse("2006-01-02", fields[0])
	if err != nil {
		return models.DailyBar{}, fmt.Errorf("kline date %q: %w", fields[0], err)
	}

	var prices [4]decimal.Decimal
	for i, idx := range []int{1, 2, 3, 4} { // open, close, high, low
		d, err := decimal.NewFromString(fields[idx])
		if err != nil {
			return models.DailyBar{}, fmt.Errorf("kline price %q: %w", fields[idx], err)
		}
		prices[i] = d
	}

	volume, err := strconv.ParseInt(fields[5], 10, 64)
	if err != nil {
		return models.DailyBar{}, fmt.Errorf("kline volume %q: %w", fields[5], err)
	}
	amount, err := decimal.NewFromString(fields[6])
	if err != nil {
		return models.DailyBar{}, fmt.Errorf("kline amount %q: %w", fields[6], err)
	}

	return models.DailyBar{
		Code:      code,
		TradeDate: tradeDate,
		Open:      prices[0],
		Close:     prices[1],
		High:      prices[2],
		Low:       prices[3],
		Volume:    volume,
		Amount:    amount,
		Adjust:    adjust,
	}, nil
}
