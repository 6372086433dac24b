// Package genai provides GenAI-enhanced operations using OpenAI API.
//
// The planner uses it to rewrite free-form follow-up messages into the itinerary command
// grammar when the rule-based parser does not recognize them.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/TripPipe/internal/intent"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default model settings.
const (
	DefaultModel       = openai.ChatModelGPT4oMini
	DefaultTemperature = 0.0
	DefaultMaxTokens   = 64
)

// ErrNoChoicesReturned is returned when the API answers without any choice.
var ErrNoChoicesReturned = errors.New("no choices returned")

// normalizePrompt is the system prompt given to the model for command normalization.
const normalizePrompt = `You convert a traveller's message about their day itinerary into exactly one command.
Valid commands, one per line, nothing else:
no changes
remove {N}th stop
replace {N}th stop with {place name}
replace {N}th stop with {place name} as a {place type}
add {place name}
add {place name} as a {place type}
let's {walk|drive|bus|bike} instead
Use digits for N with a suffix (1st, 2nd, 3rd, 4th). Place types use plain words such as museum, park, cafe.
If the message does not ask for any of these, answer UNRECOGNIZED.`

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openaiChatService adapts the SDK completions service to chatService.
type openaiChatService struct {
	client openai.Client
}

func (s *openaiChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	DebugMode   bool
	StateDir    string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithDebugMode writes every request and response to <stateDir>/debug.
func WithDebugMode(enabled bool, stateDir string) Option {
	return func(o *Opts) {
		o.DebugMode = enabled
		o.StateDir = stateDir
	}
}

// Client wraps the OpenAI ChatCompletion service.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int
	debugMode   bool
	stateDir    string
}

var _ intent.Normalizer = (*Client)(nil)

// NewClient initializes a new GenAI client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Model: DefaultModel, Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("GenAI client created", "model", cfg.Model, "temperature", cfg.Temperature, "debug", cfg.DebugMode)
	return &Client{
		chat:        &openaiChatService{client: cli},
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
	}, nil
}

// GeneratePromptWithContext generates a response based on the provided system and user prompts.
func (c *Client) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}

	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("GenAI.GeneratePromptWithContext: API call failed", "error", err, "model", c.model)
		return "", err
	}
	c.writeDebugLog("GeneratePromptWithContext", params, resp)
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}

// Normalize rewrites a follow-up message into one command line, or intent.UnrecognizedToken.
func (c *Client) Normalize(ctx context.Context, text string) (string, error) {
	out, err := c.GeneratePromptWithContext(ctx, normalizePrompt, text)
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(out)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	line = strings.Trim(line, "`\"'")
	if line == "" {
		return intent.UnrecognizedToken, nil
	}
	slog.Debug("GenAI.Normalize: rewritten", "input", text, "output", line)
	return line, nil
}

type debugEntry struct {
	Timestamp time.Time   `json:"timestamp"`
	Method    string      `json:"method"`
	Model     string      `json:"model"`
	Params    interface{} `json:"params"`
	Response  interface{} `json:"response"`
}

func (c *Client) writeDebugLog(method string, params, resp interface{}) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("GenAI.writeDebugLog: failed to create debug dir", "error", err, "dir", dir)
		return
	}
	now := time.Now()
	data, err := json.MarshalIndent(debugEntry{Timestamp: now, Method: method, Model: c.model, Params: params, Response: resp}, "", "  ")
	if err != nil {
		slog.Warn("GenAI.writeDebugLog: failed to marshal entry", "error", err)
		return
	}
	name := fmt.Sprintf("genai_%s_%d.json", method, now.UnixNano())
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		slog.Warn("GenAI.writeDebugLog: failed to write entry", "error", err)
	}
}
