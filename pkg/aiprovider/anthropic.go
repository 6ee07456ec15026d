package aiprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AnthropicName is the factory key for the remote provider.
const AnthropicName = "anthropic"

const defaultMaxTokens = 2048

// parseSystemPrompt instructs the model to extract structured bunk
// requests. The numbered-item contract is what lets responses be mapped
// back positionally.
const parseSystemPrompt = `You extract cabin-mate requests from free-text camp registration fields.

Each input item is a numbered text fragment with requester context. For every item, extract zero or more requests. Kinds:
- "bunk_with": wants to share a cabin with a named person
- "not_bunk_with": wants to be kept apart from a named person
- "age_preference": prefers an age group rather than a person (target_name empty)

Never extract the requester themselves as a target (their id is given as excluded). If a later sentence replaces an earlier request ("now wants Lena instead of Maya"), set supersedes_name on the newer request. If a name could plausibly refer to more than one person the requester knows, note it in possible_ambiguity.

Return ONLY a JSON object:
{"results": [{"index": 0, "needs_historical_context": false, "extractions": [{"kind": "bunk_with", "target_name": "Ana Reyes", "confidence": 0.95, "position": 0, "keywords": ["with"], "reasoning": "..."}]}]}

Every input index must appear exactly once in results. Items with no requests get an empty extractions array.`

const disambiguationSystemPrompt = `You pick which candidate a camp cabin-mate request refers to.

Each input item names a target and a ranked candidate list with school, grade, age, and (sometimes) social-graph signals. Prefer candidates close in grade and socially connected to the requester. If the other names requested in the same field are listed, use them: kids usually request friends from the same circle.

Return ONLY a JSON object:
{"decisions": [{"index": 0, "selected_id": "p-123", "confidence": 0.9, "reason": "..."}]}

If no candidate is plausible, set "no_match": true and omit selected_id. If you genuinely cannot decide, omit both and explain in reason. Never invent an id that is not in the candidate list. Every input index must appear exactly once.`

// messenger is the narrow slice of the Anthropic API the provider uses.
// It exists so tests can substitute a fake without touching the SDK.
type messenger interface {
	createMessage(ctx context.Context, model, system, user string, maxTokens int64) (string, TokenUsage, error)
}

// AnthropicConfig configures the remote provider.
type AnthropicConfig struct {
	APIKey            string
	Model             string
	MaxTokens         int64
	TimeoutSecs       int
	RequestsPerMinute int
}

// AnthropicProvider implements Provider against the Anthropic Messages
// API with structured JSON output.
type AnthropicProvider struct {
	client  messenger
	model   string
	maxTok  int64
	limiter *rate.Limiter

	mu    sync.Mutex
	usage TokenUsage
}

// NewAnthropic builds the remote provider. The API key is required;
// missing credentials are a construction error, not a runtime condition.
func NewAnthropic(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, eris.New("aiprovider: anthropic api key is required")
	}
	if cfg.Model == "" {
		return nil, eris.New("aiprovider: anthropic model is required")
	}
	maxTok := cfg.MaxTokens
	if maxTok <= 0 {
		maxTok = defaultMaxTokens
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 50
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.TimeoutSecs > 0 {
		opts = append(opts, option.WithRequestTimeout(time.Duration(cfg.TimeoutSecs)*time.Second))
	}
	client := sdk.NewClient(opts...)

	return &AnthropicProvider{
		client:  &sdkMessenger{client: client},
		model:   cfg.Model,
		maxTok:  maxTok,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
	}, nil
}

func (p *AnthropicProvider) Name() string { return AnthropicName }

// TokenUsage returns the cumulative usage for this provider instance.
func (p *AnthropicProvider) TokenUsage() TokenUsage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usage
}

// ResetUsage clears the cumulative counters.
func (p *AnthropicProvider) ResetUsage() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.usage = TokenUsage{}
}

// HealthCheck issues a minimal message to verify credentials and
// connectivity.
func (p *AnthropicProvider) HealthCheck(ctx context.Context) error {
	_, usage, err := p.client.createMessage(ctx, p.model, "", "Reply with the single word: ok", 8)
	if err != nil {
		return eris.Wrap(err, "aiprovider: health check")
	}
	p.addUsage(usage)
	return nil
}

// ParseRequest extracts intents from a single text fragment.
func (p *AnthropicProvider) ParseRequest(ctx context.Context, text string, rc RequestContext) (*ParsedResponse, error) {
	responses, err := p.BatchParseRequests(ctx, []ParseItem{{Text: text, Context: rc}})
	if err != nil {
		return nil, err
	}
	return responses[0], nil
}

// BatchParseRequests sends all items in one provider call and maps the
// answers back by index. A provider-level failure fails the whole call;
// the batch layer owns retries.
func (p *AnthropicProvider) BatchParseRequests(ctx context.Context, items []ParseItem) ([]*ParsedResponse, error) {
	if len(items) == 0 {
		return nil, nil
	}

	var b strings.Builder
	for i, item := range items {
		writeParseItem(&b, i, item)
	}

	text, err := p.call(ctx, parseSystemPrompt, b.String())
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Results []struct {
			Index                  int          `json:"index"`
			NeedsHistoricalContext bool         `json:"needs_historical_context"`
			Extractions            []Extraction `json:"extractions"`
		} `json:"results"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(text)), &envelope); err != nil {
		return nil, eris.Wrap(err, "aiprovider: parse batch response")
	}

	out := make([]*ParsedResponse, len(items))
	for _, r := range envelope.Results {
		if r.Index < 0 || r.Index >= len(items) {
			zap.L().Warn("aiprovider: batch response index out of range",
				zap.Int("index", r.Index),
				zap.Int("items", len(items)),
			)
			continue
		}
		out[r.Index] = &ParsedResponse{
			Extractions:            dropSelfTargets(r.Extractions, items[r.Index].Context),
			Model:                  p.model,
			NeedsHistoricalContext: r.NeedsHistoricalContext,
			NoIntent:               len(r.Extractions) == 0,
		}
	}
	return out, nil
}

// BatchDisambiguate sends all ambiguous-name requests in one provider
// call and maps the decisions back by index.
func (p *AnthropicProvider) BatchDisambiguate(ctx context.Context, reqs []DisambiguationRequest) ([]*DisambiguationDecision, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	var b strings.Builder
	for i, req := range reqs {
		writeDisambiguationItem(&b, i, req)
	}

	text, err := p.call(ctx, disambiguationSystemPrompt, b.String())
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Decisions []struct {
			Index      int     `json:"index"`
			SelectedID string  `json:"selected_id"`
			NoMatch    bool    `json:"no_match"`
			Confidence float64 `json:"confidence"`
			Reason     string  `json:"reason"`
		} `json:"decisions"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(text)), &envelope); err != nil {
		return nil, eris.Wrap(err, "aiprovider: parse disambiguation response")
	}

	out := make([]*DisambiguationDecision, len(reqs))
	for _, d := range envelope.Decisions {
		if d.Index < 0 || d.Index >= len(reqs) {
			zap.L().Warn("aiprovider: disambiguation response index out of range",
				zap.Int("index", d.Index),
				zap.Int("items", len(reqs)),
			)
			continue
		}
		out[d.Index] = &DisambiguationDecision{
			SelectedID: d.SelectedID,
			NoMatch:    d.NoMatch,
			Confidence: d.Confidence,
			Reason:     d.Reason,
		}
	}
	return out, nil
}

func (p *AnthropicProvider) call(ctx context.Context, system, user string) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "aiprovider: limiter wait")
	}

	text, usage, err := p.client.createMessage(ctx, p.model, system, user, p.maxTok)
	if err != nil {
		return "", classifySDKError(err)
	}
	p.addUsage(usage)
	return text, nil
}

func (p *AnthropicProvider) addUsage(u TokenUsage) {
	p.mu.Lock()
	p.usage.Add(u)
	p.mu.Unlock()
}

// classifySDKError tags HTTP 429 responses so the batch layer can count
// them separately from other failures.
func classifySDKError(err error) error {
	var apierr *sdk.Error
	if errors.As(err, &apierr) && apierr.StatusCode == 429 {
		return &RateLimitError{Err: err}
	}
	return eris.Wrap(err, "aiprovider: create message")
}

func writeParseItem(b *strings.Builder, i int, item ParseItem) {
	rc := item.Context
	fmt.Fprintf(b, "--- Item %d ---\n", i)
	fmt.Fprintf(b, "Requester: %s (id=%s", rc.RequesterName, rc.RequesterID)
	if rc.Grade != "" {
		fmt.Fprintf(b, ", grade %s", rc.Grade)
	}
	b.WriteString(")\n")
	if rc.SessionID != "" {
		fmt.Fprintf(b, "Session: %s, year %d\n", rc.SessionID, rc.Year)
	}
	if rc.FieldType != "" {
		fmt.Fprintf(b, "Field type: %s\n", rc.FieldType)
	}
	if rc.ExcludeTargetID != "" {
		fmt.Fprintf(b, "Excluded target id (the requester): %s\n", rc.ExcludeTargetID)
	}
	if len(rc.RowData) > 0 {
		fmt.Fprintf(b, "Row data: %s\n", formatRowData(rc.RowData))
	}
	fmt.Fprintf(b, "Text: %s\n\n", item.Text)
}

func writeDisambiguationItem(b *strings.Builder, i int, req DisambiguationRequest) {
	fmt.Fprintf(b, "--- Item %d ---\n", i)
	fmt.Fprintf(b, "Target name: %s\n", req.TargetName)
	fmt.Fprintf(b, "Requester: %s (id=%s, grade %s), session %s year %d\n",
		req.RequesterName, req.RequesterID, req.RequesterGrade, req.SessionID, req.Year)
	if req.AmbiguityReason != "" {
		fmt.Fprintf(b, "Why ambiguous: %s\n", req.AmbiguityReason)
	}
	if req.SiblingNote != "" {
		fmt.Fprintf(b, "Also requested in the same field: %s\n", req.SiblingNote)
	}
	b.WriteString("Candidates:\n")
	for _, c := range req.Candidates {
		fmt.Fprintf(b, "  - id=%s name=%s school=%s grade=%s age=%d score=%.2f",
			c.ID, c.Name, c.School, c.Grade, c.Age, c.Score)
		if c.HasSocialHints {
			fmt.Fprintf(b, " social_distance=%d mutual_connections=%d",
				c.SocialDistance, c.MutualConnections)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func formatRowData(row map[string]string) string {
	data, err := json.Marshal(row)
	if err != nil {
		return ""
	}
	return string(data)
}

// dropSelfTargets removes extractions that name the requester as their
// own target. The prompt already forbids this; the filter is the
// contract. Name comparison is case-insensitive; the id-level guard is
// enforced downstream by the resolver.
func dropSelfTargets(extractions []Extraction, rc RequestContext) []Extraction {
	if rc.ExcludeTargetID == "" || rc.RequesterName == "" {
		return extractions
	}
	self := strings.ToLower(strings.TrimSpace(rc.RequesterName))
	kept := extractions[:0]
	for _, e := range extractions {
		if strings.ToLower(strings.TrimSpace(e.TargetName)) == self {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

// sdkMessenger implements messenger with the official anthropic-sdk-go.
type sdkMessenger struct {
	client sdk.Client
}

func (m *sdkMessenger) createMessage(ctx context.Context, model, system, user string, maxTokens int64) (string, TokenUsage, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(user)),
		},
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	msg, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return "", TokenUsage{}, err
	}

	var parts []string
	for _, block := range msg.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	usage := TokenUsage{
		PromptTokens:     msg.Usage.InputTokens,
		CompletionTokens: msg.Usage.OutputTokens,
	}
	return strings.Join(parts, "\n"), usage, nil
}

// cleanJSON strips markdown code fences and any chatter around the
// outermost JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
