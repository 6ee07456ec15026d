// Package pipeline drives the two AI phases of the request pipeline,
// text-to-intent parsing and ambiguous-name disambiguation, plus the
// conflict detector that runs over the fully resolved request graph.
package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/camphq/bunkreq/internal/batch"
	"github.com/camphq/bunkreq/internal/model"
	"github.com/camphq/bunkreq/pkg/aiprovider"
)

// ParseStats summarizes one parse phase run. Counters accumulate across
// runs until Reset.
type ParseStats struct {
	TotalParsed            int `json:"total_parsed"`
	Successful             int `json:"successful"`
	Failed                 int `json:"failed"`
	NeedsHistoricalContext int `json:"needs_historical_context"`
	SuspiciousInputs       int `json:"suspicious_inputs"`
	HighRiskInputs         int `json:"high_risk_inputs"`
}

// Parser converts raw ParseRequest rows into ParseResult rows: sanitize,
// build per-item provider context, dispatch through the batch processor.
type Parser struct {
	proc      *batch.Processor
	sanitizer *Sanitizer

	mu    sync.Mutex
	stats ParseStats
}

// NewParser builds the parse phase service.
func NewParser(proc *batch.Processor) *Parser {
	return &Parser{
		proc:      proc,
		sanitizer: NewSanitizer(),
	}
}

// Sanitizer exposes the phase's sanitizer audit log.
func (p *Parser) Sanitizer() *Sanitizer { return p.sanitizer }

// Stats returns a copy of the cumulative phase counters.
func (p *Parser) Stats() ParseStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Reset clears the cumulative phase counters.
func (p *Parser) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = ParseStats{}
}

// Run parses all requests and returns one ParseResult per input, in
// input order. Sanitization always proceeds with the cleaned text and
// never aborts an item; a total pipeline failure yields failed results,
// not an error.
func (p *Parser) Run(ctx context.Context, reqs []model.ParseRequest) []model.ParseResult {
	if len(reqs) == 0 {
		return nil
	}

	work := make([]batch.Work, len(reqs))
	penalties := make([]SanitizeResult, len(reqs))

	for i, req := range reqs {
		san := p.sanitizer.Sanitize(req.RawText, req.RequesterID)
		penalties[i] = san

		cleaned := req
		cleaned.RawText = san.Text

		work[i] = batch.Work{
			Request: cleaned,
			Context: aiprovider.RequestContext{
				RequesterID:   req.RequesterID,
				RequesterName: req.RequesterName,
				Grade:         req.Grade,
				SessionID:     req.SessionID,
				Year:          req.Year,
				FieldType:     req.FieldType,
				RowData:       req.RowData,
				// The requester can never be their own bunk target.
				ExcludeTargetID: req.RequesterID,
			},
		}
	}

	results := p.proc.ParseRequests(ctx, work)

	for i := range results {
		applySanitization(&results[i], penalties[i])
	}

	p.accumulate(results, penalties)

	zap.L().Info("pipeline: parse phase complete",
		zap.Int("total", len(results)),
		zap.Int("batches_estimated", p.proc.EstimateBatchCount(len(reqs))),
	)
	return results
}

// applySanitization records the sanitizer verdict on the result and
// discounts extraction confidence by the penalty.
func applySanitization(result *model.ParseResult, san SanitizeResult) {
	if !san.Suspicious() {
		return
	}
	result.Metadata.SanitizationRisk = string(san.Risk)
	result.Metadata.ConfidencePenalty = san.ConfidencePenalty
	for j := range result.Parsed {
		result.Parsed[j].Confidence *= 1 - san.ConfidencePenalty
	}
}

func (p *Parser) accumulate(results []model.ParseResult, penalties []SanitizeResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, r := range results {
		p.stats.TotalParsed++
		if r.Valid {
			p.stats.Successful++
		} else {
			p.stats.Failed++
		}
		if r.Metadata.NeedsHistoricalContext {
			p.stats.NeedsHistoricalContext++
		}
		if penalties[i].Suspicious() {
			p.stats.SuspiciousInputs++
			if penalties[i].Risk == RiskHigh {
				p.stats.HighRiskInputs++
			}
		}
	}
}
