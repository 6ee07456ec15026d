// Package aiservice wraps a single provider for non-batched use, adding
// response caching, simple retry, and a bound on in-flight calls.
package aiservice

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/camphq/bunkreq/internal/resilience"
	"github.com/camphq/bunkreq/pkg/aiprovider"
)

// Config bounds the single-call wrapper.
type Config struct {
	CacheEnabled          bool
	MaxRetries            int
	MaxConcurrentRequests int
}

// DefaultConfig returns the wrapper defaults.
func DefaultConfig() Config {
	return Config{
		CacheEnabled:          true,
		MaxRetries:            3,
		MaxConcurrentRequests: 10,
	}
}

// Service wraps one Provider for individual parse calls. The cache and
// its counters are the only mutable shared state; both are mutex-guarded
// because callers run on arbitrary goroutines.
type Service struct {
	provider aiprovider.Provider
	cfg      Config
	sem      *semaphore.Weighted

	mu     sync.Mutex
	cache  map[string]*aiprovider.ParsedResponse
	hits   int64
	misses int64
}

// New validates cfg and builds a Service.
func New(provider aiprovider.Provider, cfg Config) (*Service, error) {
	if provider == nil {
		return nil, eris.New("aiservice: provider is required")
	}
	if cfg.MaxRetries < 1 {
		return nil, eris.New("aiservice: max retries must be >= 1")
	}
	if cfg.MaxConcurrentRequests < 1 {
		return nil, eris.New("aiservice: max concurrent requests must be >= 1")
	}
	return &Service{
		provider: provider,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentRequests)),
		cache:    make(map[string]*aiprovider.ParsedResponse),
	}, nil
}

// ParseRequest extracts intents from one text fragment. Identical
// (text, requester, session, year) inputs invoke the provider at most
// once while the cache holds; blank input never reaches the provider.
func (s *Service) ParseRequest(ctx context.Context, text string, rc aiprovider.RequestContext) (*aiprovider.ParsedResponse, error) {
	normalized := normalize(text)
	if normalized == "" {
		return &aiprovider.ParsedResponse{
			Extractions: []aiprovider.Extraction{},
			NoIntent:    true,
		}, nil
	}

	key := cacheKey(normalized, rc)
	if s.cfg.CacheEnabled {
		if resp, ok := s.lookup(key); ok {
			return resp, nil
		}
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, eris.Wrap(err, "aiservice: acquire slot")
	}
	defer s.sem.Release(1)

	resp, err := resilience.DoVal(ctx, s.retryConfig(), func(ctx context.Context) (*aiprovider.ParsedResponse, error) {
		return s.provider.ParseRequest(ctx, normalized, rc)
	})
	if err != nil {
		return nil, eris.Wrap(err, "aiservice: parse request")
	}

	if s.cfg.CacheEnabled {
		s.store(key, resp)
	}
	return resp, nil
}

// retryConfig retries every provider error (single calls have no batch
// layer above them to classify failures) with 2^attempt second delays.
func (s *Service) retryConfig() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    s.cfg.MaxRetries,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     time.Duration(1<<uint(s.cfg.MaxRetries)) * time.Second,
		Multiplier:     2.0,
		ShouldRetry:    func(error) bool { return true },
		OnRetry:        resilience.RetryLogger(s.provider.Name(), "parse_request"),
	}
}

// ClearCache drops all cached responses and hit counters.
func (s *Service) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]*aiprovider.ParsedResponse)
	s.hits = 0
	s.misses = 0
}

// CacheStats reports cache hit and miss counts.
func (s *Service) CacheStats() (hits, misses int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits, s.misses
}

func (s *Service) lookup(key string) (*aiprovider.ParsedResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.cache[key]
	if ok {
		s.hits++
		zap.L().Debug("aiservice: cache hit", zap.String("key", key))
	} else {
		s.misses++
	}
	return resp, ok
}

func (s *Service) store(key string, resp *aiprovider.ParsedResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = resp
}

// normalize collapses runs of whitespace so trivially reformatted text
// shares a cache entry.
func normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func cacheKey(normalized string, rc aiprovider.RequestContext) string {
	return fmt.Sprintf("%s|%s|%s|%d", normalized, rc.RequesterID, rc.SessionID, rc.Year)
}
