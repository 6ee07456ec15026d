// Package batch turns ordered lists of parse work into as few provider
// calls as a token budget allows, executes them with bounded
// concurrency, and returns exactly one result per input item in input
// order.
package batch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/camphq/bunkreq/internal/model"
	"github.com/camphq/bunkreq/internal/resilience"
	"github.com/camphq/bunkreq/pkg/aiprovider"
)

// throttleDelay is the proactive pause inserted before a dispatch once
// the rolling-minute request count crosses the high-water mark. This is
// a cooperative throttle, not a hard limiter.
const throttleDelay = 500 * time.Millisecond

// contextTokenOverhead approximates the tokens the per-item context
// header (requester, session, field type) adds to a prompt.
const contextTokenOverhead = 20

// BatchStatus is the lifecycle state of one dispatch unit.
type BatchStatus string

const (
	BatchPending     BatchStatus = "pending"
	BatchProcessing  BatchStatus = "processing"
	BatchCompleted   BatchStatus = "completed"
	BatchFailed      BatchStatus = "failed"
	BatchRateLimited BatchStatus = "rate_limited"
)

// BatchResult records one dispatch unit's outcome.
type BatchResult struct {
	ID         string        `json:"id"`
	Status     BatchStatus   `json:"status"`
	Size       int           `json:"size"`
	RetryCount int           `json:"retry_count"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// TokenEstimator approximates the prompt-token cost of one work item.
// The default divides serialized length by four; it is a replaceable
// strategy, not a contract.
type TokenEstimator func(text string, rc aiprovider.RequestContext) int

// Config bounds batch creation, concurrency, and retries.
type Config struct {
	MinBatchSize         int
	MaxBatchSize         int
	TokenBudget          int
	MaxConcurrentBatches int
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries         int
	InitialDelay       time.Duration
	MaxDelay           time.Duration
	RateLimitPerMinute int
	// FixedBatchSize switches from the dynamic token-budget policy to
	// fixed-size chunks when set.
	FixedBatchSize int
}

// DefaultConfig returns the processor defaults.
func DefaultConfig() Config {
	return Config{
		MinBatchSize:         2,
		MaxBatchSize:         20,
		TokenBudget:          8000,
		MaxConcurrentBatches: 4,
		MaxRetries:           3,
		InitialDelay:         time.Second,
		MaxDelay:             30 * time.Second,
		RateLimitPerMinute:   50,
	}
}

func (c Config) validate() error {
	if c.MinBatchSize < 1 {
		return eris.New("batch: min batch size must be >= 1")
	}
	if c.MaxBatchSize < c.MinBatchSize {
		return eris.Errorf("batch: max batch size %d below min %d", c.MaxBatchSize, c.MinBatchSize)
	}
	if c.TokenBudget <= 0 && c.FixedBatchSize <= 0 {
		return eris.New("batch: token budget must be positive")
	}
	if c.MaxConcurrentBatches < 1 {
		return eris.New("batch: max concurrent batches must be >= 1")
	}
	if c.MaxRetries < 0 {
		return eris.New("batch: max retries must be >= 0")
	}
	return nil
}

// Stats accumulates monotonically across processor calls; Reset is the
// only way to clear them.
type Stats struct {
	TotalBatches       int     `json:"total_batches"`
	SuccessfulBatches  int     `json:"successful_batches"`
	FailedBatches      int     `json:"failed_batches"`
	RateLimitedBatches int     `json:"rate_limited_batches"`
	ItemsProcessed     int     `json:"items_processed"`
	RetriesConsumed    int     `json:"retries_consumed"`
	ProcessingSeconds  float64 `json:"processing_seconds"`
}

// Work pairs one ParseRequest with its provider context.
type Work struct {
	Request model.ParseRequest
	Context aiprovider.RequestContext
}

// Processor is the scheduling and concurrency core of the pipeline.
// It never retains request data beyond a single call.
type Processor struct {
	provider aiprovider.Provider
	cfg      Config
	estimate TokenEstimator

	mu     sync.Mutex
	stats  Stats
	recent []time.Time
}

// NewProcessor validates cfg and builds a Processor. Configuration
// errors are reported synchronously; nothing else ever raises out of
// the processing methods.
func NewProcessor(provider aiprovider.Provider, cfg Config) (*Processor, error) {
	if provider == nil {
		return nil, eris.New("batch: provider is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Processor{
		provider: provider,
		cfg:      cfg,
		estimate: defaultEstimator,
	}, nil
}

// SetTokenEstimator replaces the token estimation strategy. Must be
// called before processing starts.
func (p *Processor) SetTokenEstimator(fn TokenEstimator) {
	if fn != nil {
		p.estimate = fn
	}
}

// Stats returns a copy of the cumulative counters.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Reset clears the cumulative counters.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = Stats{}
}

// RetryDelay returns the backoff before retry n (1-based):
// min(maxDelay, initialDelay * 2^(n-1)) with ±10% uniform jitter.
func (p *Processor) RetryDelay(attempt int) time.Duration {
	return resilience.Backoff(attempt, resilience.RetryConfig{
		InitialBackoff: p.cfg.InitialDelay,
		MaxBackoff:     p.cfg.MaxDelay,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	})
}

// EstimateBatchCount predicts how many batches n items will produce,
// using the midpoint of the allowed batch sizes since the true token
// distribution is unknown ahead of time. Used for progress reporting.
func (p *Processor) EstimateBatchCount(n int) int {
	if n <= 0 {
		return 0
	}
	if p.cfg.FixedBatchSize > 0 {
		return (n + p.cfg.FixedBatchSize - 1) / p.cfg.FixedBatchSize
	}
	mid := (p.cfg.MinBatchSize + p.cfg.MaxBatchSize) / 2
	if mid < 1 {
		mid = 1
	}
	return (n + mid - 1) / mid
}

// ParseRequests processes all work items and returns exactly one
// ParseResult per item, in input order. Provider failures surface as
// invalid results, never as an error.
func (p *Processor) ParseRequests(ctx context.Context, work []Work) []model.ParseResult {
	start := time.Now()
	results := make([]model.ParseResult, len(work))

	// Blank inputs short-circuit without consuming a provider call slot.
	var pending []int
	for i, w := range work {
		if strings.TrimSpace(w.Request.RawText) == "" {
			results[i] = model.EmptyResult(w.Request)
			results[i].Metadata.Provider = p.provider.Name()
			continue
		}
		pending = append(pending, i)
	}

	batches := p.createBatches(pending, func(i int) int {
		return p.estimate(work[i].Request.RawText, work[i].Context)
	})

	zap.L().Debug("batch: dispatching parse batches",
		zap.Int("items", len(work)),
		zap.Int("blank", len(work)-len(pending)),
		zap.Int("batches", len(batches)),
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrentBatches)

	for _, indices := range batches {
		g.Go(func() error {
			p.runParseBatch(gCtx, work, indices, results)
			return nil // batch failures land in results, never abort the group
		})
	}
	_ = g.Wait()

	p.mu.Lock()
	p.stats.ItemsProcessed += len(work)
	p.stats.ProcessingSeconds += time.Since(start).Seconds()
	p.mu.Unlock()

	return results
}

// runParseBatch executes one batch with whole-batch retries, writing
// results at the batch's original indices. Each batch owns a disjoint
// index set, so result writes need no locking.
func (p *Processor) runParseBatch(ctx context.Context, work []Work, indices []int, results []model.ParseResult) {
	items := make([]aiprovider.ParseItem, len(indices))
	for j, i := range indices {
		items[j] = aiprovider.ParseItem{Text: work[i].Request.RawText, Context: work[i].Context}
	}

	responses, br := dispatchRetries(p, ctx, len(indices), func(ctx context.Context) ([]*aiprovider.ParsedResponse, error) {
		return p.provider.BatchParseRequests(ctx, items)
	})

	if br.Status != BatchCompleted {
		for _, i := range indices {
			results[i] = model.FailedResult(work[i].Request, br.Error)
			results[i].Metadata.Provider = p.provider.Name()
		}
		return
	}

	for j, i := range indices {
		var resp *aiprovider.ParsedResponse
		if j < len(responses) {
			resp = responses[j]
		}
		results[i] = p.convertResponse(work[i].Request, resp)
	}
}

// DisambiguationResult is the processor's answer for one disambiguation
// request: either a provider decision or a terminal failure reason.
type DisambiguationResult struct {
	Decision      *aiprovider.DisambiguationDecision
	FailureReason string
}

// Disambiguate processes disambiguation requests with the same
// batching, retry, and ordering contract as ParseRequests.
func (p *Processor) Disambiguate(ctx context.Context, reqs []aiprovider.DisambiguationRequest) []DisambiguationResult {
	start := time.Now()
	results := make([]DisambiguationResult, len(reqs))

	indices := make([]int, len(reqs))
	for i := range reqs {
		indices[i] = i
	}

	batches := p.createBatches(indices, func(i int) int {
		return disambiguationTokens(reqs[i])
	})

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrentBatches)

	for _, batchIdx := range batches {
		g.Go(func() error {
			sub := make([]aiprovider.DisambiguationRequest, len(batchIdx))
			for j, i := range batchIdx {
				sub[j] = reqs[i]
			}

			decisions, br := dispatchRetries(p, gCtx, len(batchIdx), func(ctx context.Context) ([]*aiprovider.DisambiguationDecision, error) {
				return p.provider.BatchDisambiguate(ctx, sub)
			})

			for j, i := range batchIdx {
				if br.Status != BatchCompleted {
					results[i] = DisambiguationResult{FailureReason: br.Error}
					continue
				}
				if j >= len(decisions) || decisions[j] == nil {
					results[i] = DisambiguationResult{FailureReason: "provider returned no decision for item"}
					continue
				}
				results[i] = DisambiguationResult{Decision: decisions[j]}
			}
			return nil
		})
	}
	_ = g.Wait()

	p.mu.Lock()
	p.stats.ItemsProcessed += len(reqs)
	p.stats.ProcessingSeconds += time.Since(start).Seconds()
	p.mu.Unlock()

	return results
}

// dispatchRetries runs one provider call with whole-batch retries and backoff,
// recording the batch outcome in the cumulative stats. The returned
// BatchResult status is BatchCompleted on success; otherwise Error holds
// the terminal failure reason.
func dispatchRetries[T any](p *Processor, ctx context.Context, size int, call func(ctx context.Context) ([]T, error)) ([]T, BatchResult) {
	br := BatchResult{
		ID:     uuid.NewString(),
		Status: BatchProcessing,
		Size:   size,
	}
	start := time.Now()

	var responses []T
	var lastErr error
	rateLimited := false

	for attempt := 0; ; attempt++ {
		if err := p.throttle(ctx); err != nil {
			lastErr = err
			break
		}

		responses, lastErr = call(ctx)
		if lastErr == nil {
			br.Status = BatchCompleted
			break
		}

		rateLimited = aiprovider.IsRateLimit(lastErr)
		if rateLimited {
			zap.L().Warn("batch: provider rate limited",
				zap.String("batch_id", br.ID),
				zap.Int("attempt", attempt+1),
			)
		} else {
			zap.L().Warn("batch: provider call failed",
				zap.String("batch_id", br.ID),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr),
			)
		}

		if ctx.Err() != nil || attempt >= p.cfg.MaxRetries {
			break
		}

		br.RetryCount++
		if err := resilience.Sleep(ctx, p.RetryDelay(attempt+1)); err != nil {
			break
		}
	}

	br.Duration = time.Since(start)
	if br.Status != BatchCompleted {
		if rateLimited {
			br.Status = BatchRateLimited
		} else {
			br.Status = BatchFailed
		}
		if lastErr != nil {
			br.Error = lastErr.Error()
		} else {
			br.Error = "batch aborted"
		}
	}

	p.recordBatch(br)
	return responses, br
}

func (p *Processor) recordBatch(br BatchResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.TotalBatches++
	p.stats.RetriesConsumed += br.RetryCount
	switch br.Status {
	case BatchCompleted:
		p.stats.SuccessfulBatches++
	case BatchRateLimited:
		p.stats.RateLimitedBatches++
	default:
		p.stats.FailedBatches++
	}
}

// throttle applies the cooperative rolling-minute self-throttle: once
// the recent-request count crosses the high-water mark, a small delay is
// inserted before the next dispatch.
func (p *Processor) throttle(ctx context.Context) error {
	if p.cfg.RateLimitPerMinute <= 0 {
		return ctx.Err()
	}

	now := time.Now()
	p.mu.Lock()
	cutoff := now.Add(-time.Minute)
	kept := p.recent[:0]
	for _, t := range p.recent {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	p.recent = append(kept, now)
	over := len(p.recent) > p.cfg.RateLimitPerMinute
	p.mu.Unlock()

	if over {
		zap.L().Debug("batch: self-throttling dispatch",
			zap.Duration("delay", throttleDelay),
		)
		return resilience.Sleep(ctx, throttleDelay)
	}
	return ctx.Err()
}

// createBatches partitions indices into dispatch units. The dynamic
// policy accumulates items until the token budget or the max item count
// is reached; a batch is never cut below the minimum item count unless
// input is exhausted. FixedBatchSize switches to plain chunking.
func (p *Processor) createBatches(indices []int, tokens func(i int) int) [][]int {
	if len(indices) == 0 {
		return nil
	}

	if p.cfg.FixedBatchSize > 0 {
		var batches [][]int
		for start := 0; start < len(indices); start += p.cfg.FixedBatchSize {
			end := start + p.cfg.FixedBatchSize
			if end > len(indices) {
				end = len(indices)
			}
			batches = append(batches, indices[start:end])
		}
		return batches
	}

	var batches [][]int
	var current []int
	currentTokens := 0

	for _, i := range indices {
		t := tokens(i)
		overBudget := len(current) > 0 && currentTokens+t > p.cfg.TokenBudget && len(current) >= p.cfg.MinBatchSize
		atCapacity := len(current) >= p.cfg.MaxBatchSize
		if overBudget || atCapacity {
			batches = append(batches, current)
			current = nil
			currentTokens = 0
		}
		current = append(current, i)
		currentTokens += t
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func defaultEstimator(text string, rc aiprovider.RequestContext) int {
	n := aiprovider.EstimateTokens(text) + contextTokenOverhead
	for k, v := range rc.RowData {
		n += aiprovider.EstimateTokens(k) + aiprovider.EstimateTokens(v)
	}
	return n
}

func disambiguationTokens(req aiprovider.DisambiguationRequest) int {
	n := aiprovider.EstimateTokens(req.TargetName) + aiprovider.EstimateTokens(req.SiblingNote) + contextTokenOverhead
	for _, c := range req.Candidates {
		n += aiprovider.EstimateTokens(c.Name) + aiprovider.EstimateTokens(c.School) + 10
	}
	return n
}
