package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/teamflow/core"
	"github.com/openai/openai-go"
)

// OpenAIOptions configures the OpenAI backed dispatcher. Fields mirror a
// subset of Chat Completion parameters intentionally kept minimal.
type OpenAIOptions struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// OpenAIDispatcher runs one agent turn directly against the OpenAI Chat
// Completions API. The step's role acts as the system prompt and the
// resolved input as the user message.
type OpenAIDispatcher struct {
	client *openai.Client
	opts   OpenAIOptions
}

// NewOpenAIDispatcher creates a dispatcher using the official client.
func NewOpenAIDispatcher(optFns ...func(o *OpenAIOptions)) *OpenAIDispatcher {
	client := openai.NewClient()
	return NewOpenAIDispatcherFromClient(&client, optFns...)
}

// NewOpenAIDispatcherFromClient creates a dispatcher from an existing client.
func NewOpenAIDispatcherFromClient(client *openai.Client, optFns ...func(o *OpenAIOptions)) *OpenAIDispatcher {
	opts := OpenAIOptions{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &OpenAIDispatcher{client: client, opts: opts}
}

// Dispatch implements core.Dispatcher.
func (d *OpenAIDispatcher) Dispatch(ctx context.Context, req core.DispatchRequest) (*core.DispatchOutcome, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.Role != "" {
		messages = append(messages, openai.SystemMessage(req.Role))
	}
	messages = append(messages, openai.UserMessage(req.Input))

	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               d.opts.Model,
		Temperature:         openai.Float(d.opts.Temperature),
		MaxCompletionTokens: openai.Int(d.opts.MaxCompletionTokens),
	}

	resp, err := d.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAIErr(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &core.PermanentDispatchError{Reason: "no choices returned"}
	}

	return &core.DispatchOutcome{
		Output: resp.Choices[0].Message.Content,
		Usage: core.Usage{
			TokensIn:  resp.Usage.PromptTokens,
			TokensOut: resp.Usage.CompletionTokens,
		},
	}, nil
}

func classifyOpenAIErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &core.TransientDispatchError{Reason: "timeout", Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if retryableStatus(apiErr.StatusCode) {
			return &core.TransientDispatchError{Reason: fmt.Sprintf("openai http %d", apiErr.StatusCode), Cause: err}
		}
		return &core.PermanentDispatchError{Reason: fmt.Sprintf("openai http %d", apiErr.StatusCode), Cause: err}
	}

	return &core.TransientDispatchError{Reason: "connectivity", Cause: err}
}
