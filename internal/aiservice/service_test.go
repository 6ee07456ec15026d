package aiservice

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camphq/bunkreq/pkg/aiprovider"
)

type countingProvider struct {
	calls   atomic.Int64
	parseFn func(text string) (*aiprovider.ParsedResponse, error)
}

func (c *countingProvider) Name() string { return "counting" }

func (c *countingProvider) ParseRequest(_ context.Context, text string, _ aiprovider.RequestContext) (*aiprovider.ParsedResponse, error) {
	c.calls.Add(1)
	if c.parseFn != nil {
		return c.parseFn(text)
	}
	return &aiprovider.ParsedResponse{
		Extractions: []aiprovider.Extraction{{Kind: "bunk_with", TargetName: text, Confidence: 0.9}},
	}, nil
}

func (c *countingProvider) BatchParseRequests(ctx context.Context, items []aiprovider.ParseItem) ([]*aiprovider.ParsedResponse, error) {
	out := make([]*aiprovider.ParsedResponse, len(items))
	for i, it := range items {
		resp, err := c.ParseRequest(ctx, it.Text, it.Context)
		if err != nil {
			return nil, err
		}
		out[i] = resp
	}
	return out, nil
}

func (c *countingProvider) BatchDisambiguate(context.Context, []aiprovider.DisambiguationRequest) ([]*aiprovider.DisambiguationDecision, error) {
	return nil, nil
}

func (c *countingProvider) TokenUsage() aiprovider.TokenUsage { return aiprovider.TokenUsage{} }

func (c *countingProvider) HealthCheck(context.Context) error { return nil }

func newTestService(t *testing.T, provider aiprovider.Provider) *Service {
	t.Helper()
	svc, err := New(provider, Config{CacheEnabled: true, MaxRetries: 1, MaxConcurrentRequests: 4})
	require.NoError(t, err)
	return svc
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	assert.Error(t, err)

	_, err = New(&countingProvider{}, Config{MaxRetries: 0, MaxConcurrentRequests: 1})
	assert.Error(t, err)

	_, err = New(&countingProvider{}, Config{MaxRetries: 1, MaxConcurrentRequests: 0})
	assert.Error(t, err)
}

func TestParseRequestBlankShortCircuit(t *testing.T) {
	provider := &countingProvider{}
	svc := newTestService(t, provider)

	for _, text := range []string{"", "   ", "\n\t "} {
		resp, err := svc.ParseRequest(context.Background(), text, aiprovider.RequestContext{})
		require.NoError(t, err)
		assert.True(t, resp.NoIntent)
		assert.Empty(t, resp.Extractions)
	}
	assert.Zero(t, provider.calls.Load())
}

func TestParseRequestCacheIdempotence(t *testing.T) {
	provider := &countingProvider{}
	svc := newTestService(t, provider)
	rc := aiprovider.RequestContext{RequesterID: "c1", SessionID: "s1", Year: 2026}

	first, err := svc.ParseRequest(context.Background(), "bunk with Maya", rc)
	require.NoError(t, err)
	second, err := svc.ParseRequest(context.Background(), "bunk with Maya", rc)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), provider.calls.Load())

	hits, misses := svc.CacheStats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestParseRequestWhitespaceNormalizedKey(t *testing.T) {
	provider := &countingProvider{}
	svc := newTestService(t, provider)
	rc := aiprovider.RequestContext{RequesterID: "c1"}

	_, err := svc.ParseRequest(context.Background(), "bunk   with\nMaya", rc)
	require.NoError(t, err)
	_, err = svc.ParseRequest(context.Background(), " bunk with Maya ", rc)
	require.NoError(t, err)

	assert.Equal(t, int64(1), provider.calls.Load())
}

func TestParseRequestKeyIncludesContext(t *testing.T) {
	provider := &countingProvider{}
	svc := newTestService(t, provider)

	contexts := []aiprovider.RequestContext{
		{RequesterID: "c1", SessionID: "s1", Year: 2026},
		{RequesterID: "c2", SessionID: "s1", Year: 2026},
		{RequesterID: "c1", SessionID: "s2", Year: 2026},
		{RequesterID: "c1", SessionID: "s1", Year: 2025},
	}
	for _, rc := range contexts {
		_, err := svc.ParseRequest(context.Background(), "bunk with Maya", rc)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(len(contexts)), provider.calls.Load())
}

func TestParseRequestCacheDisabled(t *testing.T) {
	provider := &countingProvider{}
	svc, err := New(provider, Config{CacheEnabled: false, MaxRetries: 1, MaxConcurrentRequests: 4})
	require.NoError(t, err)
	rc := aiprovider.RequestContext{RequesterID: "c1"}

	_, err = svc.ParseRequest(context.Background(), "bunk with Maya", rc)
	require.NoError(t, err)
	_, err = svc.ParseRequest(context.Background(), "bunk with Maya", rc)
	require.NoError(t, err)
	assert.Equal(t, int64(2), provider.calls.Load())
}

func TestParseRequestErrorNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	provider := &countingProvider{
		parseFn: func(text string) (*aiprovider.ParsedResponse, error) {
			if fail.Load() {
				return nil, errors.New("provider down")
			}
			return &aiprovider.ParsedResponse{
				Extractions: []aiprovider.Extraction{{Kind: "bunk_with", TargetName: text}},
			}, nil
		},
	}
	svc := newTestService(t, provider)
	rc := aiprovider.RequestContext{RequesterID: "c1"}

	_, err := svc.ParseRequest(context.Background(), "bunk with Maya", rc)
	require.Error(t, err)

	fail.Store(false)
	resp, err := svc.ParseRequest(context.Background(), "bunk with Maya", rc)
	require.NoError(t, err)
	assert.Len(t, resp.Extractions, 1)
}

func TestClearCache(t *testing.T) {
	provider := &countingProvider{}
	svc := newTestService(t, provider)
	rc := aiprovider.RequestContext{RequesterID: "c1"}

	_, err := svc.ParseRequest(context.Background(), "bunk with Maya", rc)
	require.NoError(t, err)
	svc.ClearCache()

	_, err = svc.ParseRequest(context.Background(), "bunk with Maya", rc)
	require.NoError(t, err)
	assert.Equal(t, int64(2), provider.calls.Load())

	hits, misses := svc.CacheStats()
	assert.Equal(t, int64(0), hits)
	assert.Equal(t, int64(1), misses)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "", normalize("  \t\n"))
	assert.Equal(t, "a b c", normalize(" a\t b \n c "))
}
