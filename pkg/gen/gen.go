// Package gen wraps the Gemini API's one-shot generation endpoints: document
// text extraction, speech synthesis, image description and image generation.
//
// Unlike [github.com/hexaphone/lectern/pkg/live], which holds a streaming
// session open, every operation here is a single request/response exchange.
// The [Client] is safe for concurrent use.
package gen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/hexaphone/lectern/internal/observe"
)

// Default model identifiers, overridable per client via options.
const (
	DefaultTextModel   = "gemini-2.0-flash"
	DefaultSpeechModel = "gemini-2.5-flash-preview-tts"
	DefaultImageModel  = "imagen-3.0-generate-002"
)

// ErrEmptyResponse reports a generation call that returned no usable content.
var ErrEmptyResponse = errors.New("gen: model returned no content")

// Extraction is the result of [Client.ExtractText].
type Extraction struct {
	// Text is the document's readable text in natural reading order.
	Text string `json:"text"`

	// Language is the detected BCP-47 language tag of the text.
	Language string `json:"language"`
}

// Audio is a synthesised speech clip.
type Audio struct {
	// Data is the raw audio payload.
	Data []byte

	// MIMEType describes the payload encoding, e.g. "audio/pcm;rate=24000".
	MIMEType string
}

// Image is a generated picture.
type Image struct {
	// Data is the encoded image payload.
	Data []byte

	// MIMEType describes the payload encoding, e.g. "image/png".
	MIMEType string
}

// Option configures a [Client].
type Option func(*Client)

// WithTextModel overrides the model used for extraction and description.
func WithTextModel(model string) Option {
	return func(c *Client) { c.textModel = model }
}

// WithSpeechModel overrides the model used for speech synthesis.
func WithSpeechModel(model string) Option {
	return func(c *Client) { c.speechModel = model }
}

// WithImageModel overrides the model used for image generation.
func WithImageModel(model string) Option {
	return func(c *Client) { c.imageModel = model }
}

// WithBaseURL points the client at an alternative API endpoint. Used in
// tests against a local mock server.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithHTTPClient sets the underlying HTTP client. Used in tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client issues one-shot generation requests against the Gemini API.
type Client struct {
	api     *genai.Client
	logger  *slog.Logger
	metrics *observe.Metrics

	textModel   string
	speechModel string
	imageModel  string

	baseURL    string
	httpClient *http.Client
}

// New creates a Client authenticated with apiKey. Options are applied in
// order; unset models fall back to the package defaults.
func New(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	c := &Client{
		logger:      slog.Default(),
		textModel:   DefaultTextModel,
		speechModel: DefaultSpeechModel,
		imageModel:  DefaultImageModel,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if c.baseURL != "" {
		cfg.HTTPOptions.BaseURL = c.baseURL
	}
	if c.httpClient != nil {
		cfg.HTTPClient = c.httpClient
	}

	api, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gen: create client: %w", err)
	}
	c.api = api
	return c, nil
}

// extractionPrompt instructs the model to return the document text as JSON so
// that language detection comes back in the same round trip.
const extractionPrompt = `Extract the full readable text of the attached document ` +
	`in natural reading order. Respond with a JSON object of the form ` +
	`{"text": "...", "language": "..."} where language is the BCP-47 tag ` +
	`of the document's primary language.`

// ExtractText pulls the readable text out of an uploaded document (PDF,
// image, or plain text) and detects its language.
func (c *Client) ExtractText(ctx context.Context, data []byte, mimeType string) (ex Extraction, err error) {
	start := time.Now()
	defer func() { c.metrics.RecordGenerate(ctx, "extract_text", time.Since(start).Seconds(), err) }()

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(data, mimeType),
			genai.NewPartFromText(extractionPrompt),
		}, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}

	resp, err := c.api.Models.GenerateContent(ctx, c.textModel, contents, cfg)
	if err != nil {
		return Extraction{}, fmt.Errorf("gen: extract text: %w", err)
	}

	raw := resp.Text()
	if raw == "" {
		return Extraction{}, fmt.Errorf("gen: extract text: %w", ErrEmptyResponse)
	}
	if err := json.Unmarshal([]byte(raw), &ex); err != nil {
		return Extraction{}, fmt.Errorf("gen: extract text: decode response: %w", err)
	}
	return ex, nil
}

// Synthesize renders text as speech with the given prebuilt voice and returns
// the raw audio clip.
func (c *Client) Synthesize(ctx context.Context, text, voice string) (audio Audio, err error) {
	start := time.Now()
	defer func() { c.metrics.RecordGenerate(ctx, "synthesize", time.Since(start).Seconds(), err) }()

	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}

	resp, err := c.api.Models.GenerateContent(ctx, c.speechModel, genai.Text(text), cfg)
	if err != nil {
		return Audio{}, fmt.Errorf("gen: synthesize: %w", err)
	}

	blob := firstBlob(resp)
	if blob == nil || len(blob.Data) == 0 {
		return Audio{}, fmt.Errorf("gen: synthesize: %w", ErrEmptyResponse)
	}
	return Audio{Data: blob.Data, MIMEType: blob.MIMEType}, nil
}

// Describe returns a spoken-style description of an image, suitable for
// reading aloud to the user.
func (c *Client) Describe(ctx context.Context, image []byte, mimeType string) (desc string, err error) {
	start := time.Now()
	defer func() { c.metrics.RecordGenerate(ctx, "describe", time.Since(start).Seconds(), err) }()

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(image, mimeType),
			genai.NewPartFromText("Describe this image in a few sentences, as if reading aloud to someone who cannot see it."),
		}, genai.RoleUser),
	}

	resp, err := c.api.Models.GenerateContent(ctx, c.textModel, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gen: describe: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gen: describe: %w", ErrEmptyResponse)
	}
	return text, nil
}

// Imagine generates a single image from a text prompt.
func (c *Client) Imagine(ctx context.Context, prompt string) (img Image, err error) {
	start := time.Now()
	defer func() { c.metrics.RecordGenerate(ctx, "imagine", time.Since(start).Seconds(), err) }()

	cfg := &genai.GenerateImagesConfig{NumberOfImages: 1}

	resp, err := c.api.Models.GenerateImages(ctx, c.imageModel, prompt, cfg)
	if err != nil {
		return Image{}, fmt.Errorf("gen: imagine: %w", err)
	}
	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return Image{}, fmt.Errorf("gen: imagine: %w", ErrEmptyResponse)
	}

	out := resp.GeneratedImages[0].Image
	return Image{Data: out.ImageBytes, MIMEType: out.MIMEType}, nil
}

// firstBlob returns the first inline binary part of a response, or nil.
func firstBlob(resp *genai.GenerateContentResponse) *genai.Blob {
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil {
				return part.InlineData
			}
		}
	}
	return nil
}
