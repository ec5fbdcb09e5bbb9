package fx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/pennywise/pennywise/internal/apperr"
)

const cacheKey = "fx:latest:v1"

// HTTPProvider reads rates from an Open Exchange Rates compatible API.
type HTTPProvider struct {
	baseURL string
	appID   string
	client  *http.Client
}

// NewHTTPProvider builds a provider for GET {baseURL}/latest.json?app_id=...
func NewHTTPProvider(baseURL, appID string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPProvider{baseURL: baseURL, appID: appID, client: client}
}

// Latest fetches the current rate table.
func (p *HTTPProvider) Latest(ctx context.Context) (Rates, error) {
	endpoint := p.baseURL + "/latest.json?app_id=" + url.QueryEscape(p.appID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Rates{}, fmt.Errorf("build rates request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return Rates{}, apperr.Upstream("exchange rates unavailable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Rates{}, apperr.Upstream("exchange rates unavailable", fmt.Errorf("rates api returned %d", resp.StatusCode))
	}
	var rates Rates
	if err := json.NewDecoder(resp.Body).Decode(&rates); err != nil {
		return Rates{}, apperr.Upstream("exchange rates unavailable", fmt.Errorf("decode rates: %w", err))
	}
	if len(rates.Rates) == 0 {
		return Rates{}, apperr.Upstream("exchange rates unavailable", errors.New("empty rate table"))
	}
	return rates, nil
}

// CachedProvider keeps the latest snapshot for ttl, in Redis when a client
// is configured and in process memory otherwise. Concurrent misses share
// one upstream fetch.
type CachedProvider struct {
	next   Provider
	cache  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
	group  singleflight.Group

	mu      sync.Mutex
	local   Rates
	localAt time.Time
}

// NewCachedProvider wraps next with a snapshot cache.
func NewCachedProvider(next Provider, cache *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedProvider {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedProvider{next: next, cache: cache, ttl: ttl, logger: logger, now: time.Now}
}

// Latest returns the cached snapshot, refreshing it when expired.
func (p *CachedProvider) Latest(ctx context.Context) (Rates, error) {
	if rates, ok := p.lookup(ctx); ok {
		return rates, nil
	}

	v, err, _ := p.group.Do(cacheKey, func() (any, error) {
		rates, err := p.next.Latest(ctx)
		if err != nil {
			return Rates{}, err
		}
		p.store(ctx, rates)
		return rates, nil
	})
	if err != nil {
		return Rates{}, err
	}
	return v.(Rates), nil
}

func (p *CachedProvider) lookup(ctx context.Context) (Rates, bool) {
	if p.cache == nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.local.Rates != nil && p.now().Sub(p.localAt) < p.ttl {
			return p.local, true
		}
		return Rates{}, false
	}

	raw, err := p.cache.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			p.logger.Warn("fx cache lookup failed", slog.Any("error", err))
		}
		return Rates{}, false
	}
	var rates Rates
	if err := json.Unmarshal(raw, &rates); err != nil {
		p.logger.Warn("fx cache entry unreadable", slog.Any("error", err))
		return Rates{}, false
	}
	return rates, true
}

func (p *CachedProvider) store(ctx context.Context, rates Rates) {
	if p.cache == nil {
		p.mu.Lock()
		p.local, p.localAt = rates, p.now()
		p.mu.Unlock()
		return
	}
	payload, err := json.Marshal(rates)
	if err != nil {
		p.logger.Warn("fx cache encode failed", slog.Any("error", err))
		return
	}
	if err := p.cache.Set(ctx, cacheKey, payload, p.ttl).Err(); err != nil {
		p.logger.Warn("fx cache store failed", slog.Any("error", err))
	}
}
