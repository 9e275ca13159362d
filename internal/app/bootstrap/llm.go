package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/sophie-assistant/internal/config"
	"github.com/wolfman30/sophie-assistant/internal/llm"
	"github.com/wolfman30/sophie-assistant/pkg/logging"
)

// BuildLLMClient wires the configured provider, wrapped in retries, with the
// other provider as fallback when enabled. It returns a nil client when no
// provider is configured; the engine then answers deterministically.
func BuildLLMClient(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (llm.Client, func(), error) {
	if cfg == nil {
		return nil, func() {}, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	retrying := func(c llm.Client, name string) llm.Client {
		return llm.NewRetryingClient(c,
			llm.WithTimeout(cfg.LLMTimeout),
			llm.WithMaxAttempts(cfg.LLMMaxRetries),
			llm.WithBaseDelay(cfg.LLMRetryBaseDelay),
			llm.WithRetryLogger(logger.With("provider", name)),
		)
	}
	bedrock := func() llm.Client {
		if strings.TrimSpace(cfg.BedrockModelID) == "" {
			return nil
		}
		return pinModel(retrying(llm.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg)), "bedrock"), cfg.BedrockModelID)
	}
	gemini := func() (llm.Client, error) {
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, nil
		}
		c, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		closers = append(closers, func() { _ = c.Close() })
		return pinModel(retrying(c, "gemini"), cfg.GeminiModel), nil
	}

	var primary, fallback llm.Client
	var err error
	switch cfg.LLMProvider {
	case "", "none":
		logger.Warn("no llm provider configured; replies are deterministic only")
		return nil, closeAll, nil
	case "bedrock":
		primary = bedrock()
		if cfg.LLMFallbackEnabled {
			fallback, err = gemini()
		}
	case "gemini":
		primary, err = gemini()
		if err == nil && cfg.LLMFallbackEnabled {
			fallback = bedrock()
		}
	default:
		return nil, closeAll, fmt.Errorf("bootstrap: unknown llm provider %q", cfg.LLMProvider)
	}
	if err != nil {
		closeAll()
		return nil, func() {}, fmt.Errorf("bootstrap: llm client: %w", err)
	}
	if primary == nil {
		logger.Warn("llm provider selected but not configured; replies are deterministic only", "provider", cfg.LLMProvider)
		closeAll()
		return nil, func() {}, nil
	}

	logger.Info("llm configured", "provider", cfg.LLMProvider, "fallback", fallback != nil)
	return llm.NewFallbackClient(primary, fallback, logger), closeAll, nil
}

// PrimaryModel is the model id of the selected provider, used to label
// requests and metrics.
func PrimaryModel(cfg *appconfig.Config) string {
	if cfg == nil {
		return ""
	}
	if cfg.LLMProvider == "gemini" {
		return cfg.GeminiModel
	}
	return cfg.BedrockModelID
}

// modelClient sends every request to one model, so a fallback provider never
// receives the primary's model id.
type modelClient struct {
	next  llm.Client
	model string
}

func pinModel(next llm.Client, model string) llm.Client {
	return modelClient{next: next, model: model}
}

func (c modelClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	req.Model = c.model
	return c.next.Complete(ctx, req)
}
