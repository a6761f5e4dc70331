package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/hupe1980/teamflow/core"
)

// AnthropicOptions configures the Anthropic backed dispatcher (model id,
// max tokens, temperature, API key).
type AnthropicOptions struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// AnthropicDispatcher runs one agent turn directly against the Anthropic
// Messages API instead of a remote execution service. The step's role acts
// as the system prompt and the resolved input as the user message.
type AnthropicDispatcher struct {
	client *anthropic.Client
	opts   AnthropicOptions
}

// NewAnthropicDispatcher creates a dispatcher using the official client.
func NewAnthropicDispatcher(optFns ...func(o *AnthropicOptions)) *AnthropicDispatcher {
	opts := AnthropicOptions{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &AnthropicDispatcher{
		client: &client,
		opts:   opts,
	}
}

// NewAnthropicDispatcherFromClient creates a dispatcher from an existing client.
func NewAnthropicDispatcherFromClient(client *anthropic.Client, optFns ...func(o *AnthropicOptions)) *AnthropicDispatcher {
	opts := AnthropicOptions{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &AnthropicDispatcher{
		client: client,
		opts:   opts,
	}
}

// Dispatch implements core.Dispatcher.
func (d *AnthropicDispatcher) Dispatch(ctx context.Context, req core.DispatchRequest) (*core.DispatchOutcome, error) {
	params := anthropic.MessageNewParams{
		Model:       d.opts.Model,
		MaxTokens:   d.opts.MaxTokens,
		Temperature: anthropic.Float(d.opts.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Input)),
		},
	}
	if req.Role != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Role}}
	}

	resp, err := d.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropicErr(ctx, err)
	}

	var output string
	for _, block := range resp.Content {
		if block.Type == "text" {
			output += block.AsText().Text
		}
	}

	return &core.DispatchOutcome{
		Output: output,
		Usage: core.Usage{
			TokensIn:  resp.Usage.InputTokens,
			TokensOut: resp.Usage.OutputTokens,
		},
	}, nil
}

func classifyAnthropicErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &core.TransientDispatchError{Reason: "timeout", Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if retryableStatus(apiErr.StatusCode) {
			return &core.TransientDispatchError{Reason: fmt.Sprintf("anthropic http %d", apiErr.StatusCode), Cause: err}
		}
		return &core.PermanentDispatchError{Reason: fmt.Sprintf("anthropic http %d", apiErr.StatusCode), Cause: err}
	}

	return &core.TransientDispatchError{Reason: "connectivity", Cause: err}
}
