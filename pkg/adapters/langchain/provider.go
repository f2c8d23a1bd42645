package langchain

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
)

// Supported providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// DefaultOllamaURL is where a local ollama server listens.
const DefaultOllamaURL = "http://localhost:11434"

// Config selects and configures a chat model.
type Config struct {
	Provider    string  `koanf:"provider"`
	Model       string  `koanf:"name"`
	APIKey      string  `koanf:"api_key"`
	BaseURL     string  `koanf:"base_url"`
	Temperature float64 `koanf:"temperature"`
	MaxTokens   int     `koanf:"max_tokens"`
}

// NewModel builds the llms.Model named by cfg.Provider.
func NewModel(cfg Config) (llms.Model, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI, "":
		opts := []openai.Option{}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)

	case ProviderAnthropic:
		opts := []anthropic.Option{}
		if cfg.Model != "" {
			opts = append(opts, anthropic.WithModel(cfg.Model))
		}
		if cfg.APIKey != "" {
			opts = append(opts, anthropic.WithToken(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.New(opts...)

	case ProviderOllama:
		// The native ollama client drops tools, so talk to the
		// OpenAI-compatible endpoint instead.
		opts := []openai.Option{
			openai.WithBaseURL(ollamaBaseURL(cfg.BaseURL)),
			openai.WithToken("ollama"),
		}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		return openai.New(opts...)

	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}
}

// ollamaBaseURL points a server URL at its /v1 API.
func ollamaBaseURL(server string) string {
	if server == "" {
		server = DefaultOllamaURL
	}
	server = strings.TrimRight(server, "/")
	if strings.HasSuffix(server, "/v1") {
		return server
	}
	return server + "/v1"
}

// CallOptions returns the per-request options implied by cfg.
func (cfg Config) CallOptions() []llms.CallOption {
	var opts []llms.CallOption
	if cfg.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(cfg.Temperature))
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(cfg.MaxTokens))
	}
	return opts
}
