package narrative

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/psychobrio/connect/internal/clinic"
)

// TextGenerator is the single seam to the language model. Implementations
// return the raw generated text; retry and error mapping live in the compiler.
type TextGenerator interface {
	GenerateText(ctx context.Context, system, prompt string) (string, error)
}

type failureClass int

const (
	failureTimeout failureClass = iota
	failureRateLimit
	failureCredentials
	failureServer
	failureClient
)

type GeneratorConfig struct {
	Model       string
	MaxTokens   int64
	Temperature float64
}

func (c *GeneratorConfig) fillDefaults() {
	if c.Model == "" {
		c.Model = string(anthropic.ModelClaudeSonnet4_20250514)
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 800
	}
	if c.Temperature == 0 {
		c.Temperature = 0.3
	}
}

type AnthropicGenerator struct {
	messages AnthropicMessager
	cfg      GeneratorConfig
}

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicClientCreator func(apiKey string) AnthropicMessager

func defaultAnthropicCreator(apiKey string) AnthropicMessager {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

func NewAnthropicGenerator(apiKey string, cfg GeneratorConfig) (*AnthropicGenerator, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("anthropic api key not configured")
	}
	cfg.fillDefaults()
	return &AnthropicGenerator{messages: newAnthropicClient(apiKey), cfg: cfg}, nil
}

func (g *AnthropicGenerator) Model() string { return g.cfg.Model }

func (g *AnthropicGenerator) GenerateText(ctx context.Context, system, prompt string) (string, error) {
	resp, err := g.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(g.cfg.Model),
		MaxTokens:   g.cfg.MaxTokens,
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(g.cfg.Temperature),
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

func classifyTransportError(err error) failureClass {
	msg := strings.ToLower(err.Error())
	if errors.Is(err, context.DeadlineExceeded) {
		return failureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failureTimeout
	}
	switch {
	case strings.Contains(msg, "429"):
		return failureRateLimit
	case strings.Contains(msg, "401") || strings.Contains(msg, "authentication") || strings.Contains(msg, "api key"):
		return failureCredentials
	case strings.Contains(msg, "status code: 5") || strings.Contains(msg, "server error"):
		return failureServer
	case strings.Contains(msg, "status code: 4"):
		return failureClient
	default:
		return failureServer
	}
}

func retryable(class failureClass) bool {
	return class == failureTimeout || class == failureRateLimit || class == failureServer
}

func backoffDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 1 * time.Second
	}
	return 2 * time.Second
}

// mapGenerationError turns a transport failure into the taxonomy error shown
// to the practitioner. Messages are French like the rest of the UI text.
func mapGenerationError(err error) *clinic.Error {
	switch classifyTransportError(err) {
	case failureRateLimit:
		return clinic.NewRateLimited("limite de requêtes atteinte, réessayez dans quelques instants")
	case failureCredentials:
		return clinic.NewGenerationUnavailable("clé API du service de génération non configurée ou invalide")
	default:
		return clinic.NewGenerationUnavailable("le service de génération est momentanément indisponible")
	}
}
