// Package anthropic wraps the official SDK behind a narrow client
// interface covering the two operations the pipeline needs: plain text
// messages for report synthesis and image+text messages for vision
// enrichment.
package anthropic

import (
	"context"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/osint-cli/internal/resilience"
)

// Client defines the Anthropic API operations used by the pipeline.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

// MessageRequest is our own request type for CreateMessage.
type MessageRequest struct {
	Model       string
	MaxTokens   int64
	System      []SystemBlock
	Messages    []Message
	Temperature *float64
}

// SystemBlock represents a system prompt block.
type SystemBlock struct {
	Text string
}

// Message represents a single conversational message. A message holds
// one or more content blocks; blocks with a non-nil Image become image
// blocks, everything else is text.
type Message struct {
	Role   string // "user" or "assistant"
	Blocks []ContentBlockParam
}

// ContentBlockParam is one block of outgoing content.
type ContentBlockParam struct {
	Text  string
	Image *ImageSource
}

// ImageSource is a base64-encoded inline image.
type ImageSource struct {
	MediaType string // e.g. "image/jpeg"
	Data      string // base64 payload
}

// MessageResponse is our own response type from CreateMessage.
type MessageResponse struct {
	ID         string
	Model      string
	Content    []ContentBlock
	StopReason string
	Usage      TokenUsage
}

// ContentBlock represents a block of content in a response.
type ContentBlock struct {
	Type string
	Text string
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// Text concatenates the text blocks of a response.
func (r *MessageResponse) Text() string {
	out := ""
	for _, b := range r.Content {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}

// LogUsage logs token consumption with structured zap fields.
func (u TokenUsage) LogUsage(model, phase string) {
	zap.L().Info("token usage",
		zap.String("model", model),
		zap.String("phase", phase),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
	)
}

// sdkClient implements Client using the official anthropic-sdk-go.
type sdkClient struct {
	client sdk.Client
}

// NewClient creates a new Anthropic client backed by the SDK.
func NewClient(apiKey string) Client {
	return &sdkClient{
		client: sdk.NewClient(
			option.WithAPIKey(apiKey),
			option.WithMaxRetries(0), // retry policy belongs to the caller
		),
	}
}

func (c *sdkClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  toSDKMessages(req.Messages),
	}

	if len(req.System) > 0 {
		params.System = toSDKSystemBlocks(req.System)
	}

	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifySDKError(err)
	}

	return fromSDKMessage(msg), nil
}

// classifySDKError maps SDK failures onto the shared error taxonomy:
// 429 becomes a RateLimitError carrying the Retry-After estimate, 5xx
// becomes transient, everything else is wrapped as-is.
func classifySDKError(err error) error {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		if apierr.StatusCode == 429 {
			if apierr.Response != nil {
				if rlErr := resilience.ClassifyResponse("anthropic", apierr.Response); rlErr != nil {
					return rlErr
				}
			}
			return &resilience.RateLimitError{Provider: "anthropic"}
		}
		if resilience.IsTransientHTTPStatus(apierr.StatusCode) {
			return resilience.NewTransientError(eris.Wrap(err, "anthropic: create message"), apierr.StatusCode)
		}
	}
	return eris.Wrap(err, "anthropic: create message")
}

// --- SDK type conversion helpers ---

func toSDKMessages(msgs []Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, len(msgs))
	for i, m := range msgs {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Blocks))
		for _, b := range m.Blocks {
			if b.Image != nil {
				blocks = append(blocks, sdk.NewImageBlockBase64(b.Image.MediaType, b.Image.Data))
				continue
			}
			blocks = append(blocks, sdk.NewTextBlock(b.Text))
		}
		switch m.Role {
		case "assistant":
			out[i] = sdk.NewAssistantMessage(blocks...)
		default:
			out[i] = sdk.NewUserMessage(blocks...)
		}
	}
	return out
}

func toSDKSystemBlocks(blocks []SystemBlock) []sdk.TextBlockParam {
	out := make([]sdk.TextBlockParam, len(blocks))
	for i, b := range blocks {
		out[i] = sdk.TextBlockParam{Text: b.Text}
	}
	return out
}

func fromSDKMessage(msg *sdk.Message) *MessageResponse {
	blocks := make([]ContentBlock, 0, len(msg.Content))
	for _, b := range msg.Content {
		blocks = append(blocks, ContentBlock{
			Type: b.Type,
			Text: b.Text,
		})
	}

	return &MessageResponse{
		ID:         msg.ID,
		Model:      string(msg.Model),
		Content:    blocks,
		StopReason: string(msg.StopReason),
		Usage: TokenUsage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}
}
