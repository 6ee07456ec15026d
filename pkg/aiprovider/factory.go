package aiprovider

import "github.com/rotisserie/eris"

// Config selects and configures a concrete provider.
type Config struct {
	Name              string
	APIKey            string
	Model             string
	MaxTokens         int64
	TimeoutSecs       int
	RequestsPerMinute int
}

// New constructs a Provider by name. Unknown names are a construction
// error; runtime type inspection is never used to pick a variant.
func New(cfg Config) (Provider, error) {
	switch cfg.Name {
	case AnthropicName:
		return NewAnthropic(AnthropicConfig{
			APIKey:            cfg.APIKey,
			Model:             cfg.Model,
			MaxTokens:         cfg.MaxTokens,
			TimeoutSecs:       cfg.TimeoutSecs,
			RequestsPerMinute: cfg.RequestsPerMinute,
		})
	case OfflineName:
		return NewOffline(), nil
	default:
		return nil, eris.Errorf("aiprovider: unknown provider %q", cfg.Name)
	}
}
