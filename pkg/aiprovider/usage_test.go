package aiprovider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenUsageAdd(t *testing.T) {
	u := TokenUsage{PromptTokens: 10, CompletionTokens: 5}
	u.Add(TokenUsage{PromptTokens: 3, CompletionTokens: 2})
	assert.Equal(t, TokenUsage{PromptTokens: 13, CompletionTokens: 7}, u)
}

func TestEstimateCost(t *testing.T) {
	u := TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 500_000}

	assert.InDelta(t, 0.80+2.00, u.EstimateCost("claude-haiku-4-5-20251001"), 1e-9)
	assert.InDelta(t, 3.00+7.50, u.EstimateCost("claude-sonnet-4-5-20250929"), 1e-9)
	assert.Zero(t, u.EstimateCost("unknown-model"))
	assert.Zero(t, u.EstimateCost(""))
	assert.Zero(t, TokenUsage{}.EstimateCost("claude-haiku-4-5-20251001"))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("ab"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 25, EstimateTokens(string(make([]byte, 100))))
}

func TestFactory(t *testing.T) {
	p, err := New(Config{Name: OfflineName})
	assert.NoError(t, err)
	assert.Equal(t, OfflineName, p.Name())

	p, err = New(Config{Name: AnthropicName, APIKey: "k", Model: "m"})
	assert.NoError(t, err)
	assert.Equal(t, AnthropicName, p.Name())

	_, err = New(Config{Name: "carrier-pigeon"})
	assert.Error(t, err)
}
