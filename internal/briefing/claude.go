// Package briefing produces an optional analyst narrative for a threat
// verdict. It reads the label only and never touches session state.
package briefing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"golang.org/x/sync/singleflight"

	"github.com/nids-dash/nids-go/internal/features"
)

var (
	// ErrDisabled is returned when no model credentials are configured.
	ErrDisabled = errors.New("briefing disabled")
	// ErrNotThreat is returned for the benign label.
	ErrNotThreat = errors.New("no briefing for legitimate traffic")
)

// Briefer explains a threat verdict.
type Briefer interface {
	Brief(ctx context.Context, label features.Label) (string, error)
}

// Disabled is the Briefer used when briefing is not configured.
type Disabled struct{}

func (Disabled) Brief(context.Context, features.Label) (string, error) { return "", ErrDisabled }

// Config selects how Claude is reached.
type Config struct {
	Provider  string // "anthropic" or "bedrock"
	APIKey    string
	Model     string
	Region    string
	MaxTokens int64
}

const (
	defaultModel        = "claude-sonnet-4-5"
	defaultBedrockModel = "global.anthropic.claude-sonnet-4-5-20250929-v1:0"
	defaultMaxTokens    = 400
)

const systemPrompt = `You are a security operations analyst. A network intrusion detection model classified a single flow record on an SDN switch port. Write a short briefing (at most 120 words, plain text, no markdown) for the on-call engineer: what this attack category usually looks like in switch port counters, the most likely impact, and what to check first. Do not repeat the generic checklist of isolating systems, reviewing logs, updating firewall rules and contacting the security team.`

type completeFunc func(ctx context.Context, system, prompt string) (string, error)

// Claude briefs through the Anthropic Messages API. Briefings depend only on
// the label, so each one is generated once and cached.
type Claude struct {
	complete completeFunc
	logger   *slog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	cache map[features.Label]string
}

// New returns a Claude briefer, or Disabled when cfg carries no credentials.
func New(ctx context.Context, cfg Config, logger *slog.Logger) Briefer {
	c, err := NewClaude(ctx, cfg, logger)
	if err != nil {
		logger.Info("analyst briefing disabled", "reason", err)
		return Disabled{}
	}
	return c
}

// NewClaude builds a client for the configured provider.
func NewClaude(ctx context.Context, cfg Config, logger *slog.Logger) (*Claude, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	var client anthropic.Client
	switch cfg.Provider {
	case "bedrock":
		if cfg.Model == "" {
			cfg.Model = defaultBedrockModel
		}
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
		}
		client = anthropic.NewClient(bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	case "anthropic", "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: api key not set", ErrDisabled)
		}
		if cfg.Model == "" {
			cfg.Model = defaultModel
		}
		client = anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrDisabled, cfg.Provider)
	}

	complete := func(ctx context.Context, system, prompt string) (string, error) {
		message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(cfg.Model),
			MaxTokens: cfg.MaxTokens,
			System: []anthropic.TextBlockParam{
				{Text: system},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			return "", fmt.Errorf("claude API error: %w", err)
		}
		if len(message.Content) == 0 {
			return "", fmt.Errorf("empty claude response")
		}
		return message.Content[0].Text, nil
	}
	return newClaude(complete, logger), nil
}

func newClaude(complete completeFunc, logger *slog.Logger) *Claude {
	return &Claude{complete: complete, logger: logger, cache: make(map[features.Label]string)}
}

// Brief returns the cached briefing for label, generating it on first use.
func (c *Claude) Brief(ctx context.Context, label features.Label) (string, error) {
	cat, ok := features.Lookup(label)
	if !ok {
		return "", fmt.Errorf("unknown label %d", int(label))
	}
	if cat.Benign {
		return "", ErrNotThreat
	}

	c.mu.RLock()
	text, ok := c.cache[label]
	c.mu.RUnlock()
	if ok {
		return text, nil
	}

	v, err, _ := c.group.Do(cat.Name, func() (any, error) {
		prompt := fmt.Sprintf("Verdict: %s (class %d of %d).\nModel inputs: %s.",
			cat.Name, int(label), features.CategoryCount()-1, strings.Join(trimmed(), ", "))
		out, err := c.complete(ctx, systemPrompt, prompt)
		if err != nil {
			return "", err
		}
		out = strings.TrimSpace(out)
		c.mu.Lock()
		c.cache[label] = out
		c.mu.Unlock()
		return out, nil
	})
	if err != nil {
		c.logger.Warn("briefing failed", "label", int(label), "err", err)
		return "", err
	}
	return v.(string), nil
}

func trimmed() []string {
	out := make([]string, len(features.Names))
	for i, n := range features.Names {
		out[i] = strings.TrimSpace(n)
	}
	return out
}
