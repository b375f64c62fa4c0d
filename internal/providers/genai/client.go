// Package genai is a lightweight facade over the Gemini HTTP API. It covers
// every remote call the mission queue needs: batch image generation, image
// editing, prompt enhancement, frame analysis, and the long-running video
// generation protocol (submit once, poll the returned operation).
package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	VideoModel string
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// Client issues requests against the Gemini REST surface. All calls are
// fallible and return human-readable errors that distinguish safety blocks,
// early finish reasons, empty responses, and transport failures.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	videoModel string
	httpClient *http.Client
	logger     zerolog.Logger
}

// ImageRequest asks for a fixed batch of generated images.
type ImageRequest struct {
	Prompt string
	Count  int
}

// EditRequest applies a prompt-driven edit to a single source image.
// Context names the operation for error messages ("filter", "crop suggestion").
type EditRequest struct {
	Image   []byte
	MIME    string
	Prompt  string
	Context string
}

// ImageAsset is one encoded image returned by the API.
type ImageAsset struct {
	MIME string
	Data []byte
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
	FileData   *geminiFileData   `json:"fileData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri,omitempty"`
}

type geminiGenerationConfig struct {
	CandidateCount     int      `json:"candidateCount,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
	Temperature        *float64 `json:"temperature,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiPromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates     []geminiCandidate     `json:"candidates"`
	PromptFeedback *geminiPromptFeedback `json:"promptFeedback,omitempty"`
}

type geminiPredictLongRunningRequest struct {
	Instances []geminiVideoInstance `json:"instances"`
}

type geminiVideoInstance struct {
	Prompt string `json:"prompt"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// NewClient constructs a Gemini client with sane defaults. Callers may
// provide a nil HTTP client; a reusable one with a timeout will be created.
func NewClient(opts Options) (*Client, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	model := opts.Model
	if model == "" {
		model = "gemini-2.5-flash-image"
	}
	videoModel := opts.VideoModel
	if videoModel == "" {
		videoModel = "veo-3.0-generate-001"
	}

	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		videoModel: videoModel,
		httpClient: client,
		logger:     logger,
	}, nil
}

// Model returns the configured image model identifier.
func (c *Client) Model() string {
	return c.model
}

// GenerateImages requests a fixed batch of images for the prompt and returns
// them in response order.
func (c *Client) GenerateImages(ctx context.Context, req ImageRequest) ([]ImageAsset, error) {
	count := clampCount(req.Count)
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: req.Prompt}},
		}},
		GenerationConfig: &geminiGenerationConfig{
			CandidateCount:     count,
			ResponseModalities: []string{"IMAGE"},
		},
	}

	var response geminiGenerateContentResponse
	if err := c.invokeGemini(ctx, fmt.Sprintf("/models/%s:generateContent", url.PathEscape(c.model)), payload, &response); err != nil {
		return nil, err
	}
	if err := checkResponse(&response, "image generation"); err != nil {
		return nil, err
	}

	var assets []ImageAsset
	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			asset, err := c.decodeImagePart(ctx, part)
			if err != nil || len(asset.Data) == 0 {
				continue
			}
			assets = append(assets, asset)
			if len(assets) >= count {
				break
			}
		}
		if len(assets) >= count {
			break
		}
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("no image returned for image generation")
	}

	c.logger.Debug().
		Str("model", c.model).
		Int("count", len(assets)).
		Msg("genai: generated image batch")

	return assets, nil
}

// EditImage sends a source image plus an instruction and returns the single
// edited image.
func (c *Client) EditImage(ctx context.Context, req EditRequest) (*ImageAsset, error) {
	opContext := req.Context
	if opContext == "" {
		opContext = "image edit"
	}
	mime := req.MIME
	if mime == "" {
		mime = "image/png"
	}
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{InlineData: &geminiInlineData{
					MimeType: mime,
					Data:     base64.StdEncoding.EncodeToString(req.Image),
				}},
				{Text: req.Prompt},
			},
		}},
		GenerationConfig: &geminiGenerationConfig{
			ResponseModalities: []string{"IMAGE"},
		},
	}

	var response geminiGenerateContentResponse
	if err := c.invokeGemini(ctx, fmt.Sprintf("/models/%s:generateContent", url.PathEscape(c.model)), payload, &response); err != nil {
		return nil, err
	}
	if err := checkResponse(&response, opContext); err != nil {
		return nil, err
	}

	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			asset, err := c.decodeImagePart(ctx, part)
			if err != nil || len(asset.Data) == 0 {
				continue
			}
			return &asset, nil
		}
	}
	return nil, fmt.Errorf("no image returned for %s", opContext)
}

// EnhancePrompt rewrites a user prompt into a richer one.
func (c *Client) EnhancePrompt(ctx context.Context, text string) (string, error) {
	instruction := "Rewrite the following image/video generation prompt to be more vivid and specific. " +
		"Reply with the improved prompt only, no preamble.\n\nPrompt: " + strings.TrimSpace(text)
	return c.generateText(ctx, []geminiPart{{Text: instruction}}, "prompt enhancement")
}

// AnalyzeFrame describes a single image, typically a video frame grabbed for
// editing context.
func (c *Client) AnalyzeFrame(ctx context.Context, image []byte, mime string) (string, error) {
	if mime == "" {
		mime = "image/png"
	}
	parts := []geminiPart{
		{InlineData: &geminiInlineData{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(image),
		}},
		{Text: "Describe this frame in one or two sentences, focusing on subject, lighting and composition."},
	}
	return c.generateText(ctx, parts, "frame analysis")
}

func (c *Client) generateText(ctx context.Context, parts []geminiPart, opContext string) (string, error) {
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &geminiGenerationConfig{
			CandidateCount: 1,
		},
	}
	var response geminiGenerateContentResponse
	if err := c.invokeGemini(ctx, fmt.Sprintf("/models/%s:generateContent", url.PathEscape(c.model)), payload, &response); err != nil {
		return "", err
	}
	if err := checkResponse(&response, opContext); err != nil {
		return "", err
	}
	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			if text := strings.TrimSpace(part.Text); text != "" {
				return text, nil
			}
		}
	}
	return "", fmt.Errorf("no text returned for %s", opContext)
}

// StartVideo submits a long-running video generation request and returns the
// remote operation handle. The raw operation JSON is retained verbatim so it
// can be persisted and resumed across restarts.
func (c *Client) StartVideo(ctx context.Context, prompt string) (*Operation, error) {
	payload := geminiPredictLongRunningRequest{
		Instances: []geminiVideoInstance{{Prompt: prompt}},
	}
	var raw json.RawMessage
	path := fmt.Sprintf("/models/%s:predictLongRunning", url.PathEscape(c.videoModel))
	if err := c.invokeGemini(ctx, path, payload, &raw); err != nil {
		return nil, err
	}
	op, err := ParseOperation(raw)
	if err != nil {
		return nil, fmt.Errorf("malformed operation response: %w", err)
	}
	if op.Name == "" {
		return nil, fmt.Errorf("no operation returned for video generation")
	}

	c.logger.Debug().
		Str("model", c.videoModel).
		Str("operation", op.Name).
		Msg("genai: started video generation")

	return op, nil
}

// PollVideo refreshes the operation handle. The returned handle has the same
// shape as the submitted one, with updated done/response fields.
func (c *Client) PollVideo(ctx context.Context, op *Operation) (*Operation, error) {
	if op == nil || op.Name == "" {
		return nil, fmt.Errorf("no operation handle to poll")
	}
	endpoint := strings.TrimRight(c.baseURL, "/") + "/" + strings.TrimLeft(op.Name, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create poll request: %w", err)
	}
	raw, err := c.do(req)
	if err != nil {
		return nil, err
	}
	refreshed, err := ParseOperation(raw)
	if err != nil {
		return nil, fmt.Errorf("malformed operation response: %w", err)
	}
	if refreshed.Name == "" {
		refreshed.Name = op.Name
	}
	return refreshed, nil
}

// Download fetches the binary payload behind a result URI and returns the
// bytes together with the reported content type.
func (c *Client) Download(ctx context.Context, uri string) ([]byte, string, error) {
	target := uri
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		target = strings.TrimRight(c.baseURL, "/") + "/" + strings.TrimLeft(uri, "/")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create download request: %w", err)
	}
	if c.apiKey != "" {
		q := req.URL.Query()
		q.Set("key", c.apiKey)
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return nil, "", fmt.Errorf("download file status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read file: %w", err)
	}
	return blob, resp.Header.Get("Content-Type"), nil
}

func (c *Client) invokeGemini(ctx context.Context, path string, payload any, out any) error {
	endpoint := strings.TrimRight(c.baseURL, "/") + path
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode gemini response: %w", err)
	}
	return nil
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	if c.apiKey != "" {
		q := req.URL.Query()
		q.Set("key", c.apiKey)
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoke gemini: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read gemini response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr geminiErrorResponse
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("gemini status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		if len(data) > 0 {
			return nil, fmt.Errorf("gemini status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return nil, fmt.Errorf("gemini status %d", resp.StatusCode)
	}
	return json.RawMessage(data), nil
}

// checkResponse maps the response envelope to the error taxonomy: safety
// blocks and early finish reasons must read differently from generic
// failures so the mission error explains what actually happened.
func checkResponse(response *geminiGenerateContentResponse, opContext string) error {
	if response.PromptFeedback != nil && response.PromptFeedback.BlockReason != "" {
		return fmt.Errorf("request blocked by content policy (%s)", response.PromptFeedback.BlockReason)
	}
	if len(response.Candidates) == 0 {
		return fmt.Errorf("empty response for %s", opContext)
	}
	for _, candidate := range response.Candidates {
		switch candidate.FinishReason {
		case "", "STOP":
		case "SAFETY", "IMAGE_SAFETY", "PROHIBITED_CONTENT":
			return fmt.Errorf("request blocked by content policy (%s)", candidate.FinishReason)
		default:
			return fmt.Errorf("generation stopped early (finish reason %s)", candidate.FinishReason)
		}
	}
	return nil
}

func (c *Client) decodeImagePart(ctx context.Context, part geminiPart) (ImageAsset, error) {
	if part.InlineData != nil && part.InlineData.Data != "" {
		data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
		if err != nil {
			return ImageAsset{}, fmt.Errorf("decode inline data: %w", err)
		}
		return ImageAsset{Data: data, MIME: firstNonEmpty(part.InlineData.MimeType, "image/png")}, nil
	}

	if part.FileData != nil && part.FileData.FileURI != "" {
		data, mime, err := c.Download(ctx, part.FileData.FileURI)
		if err != nil {
			return ImageAsset{}, err
		}
		return ImageAsset{Data: data, MIME: firstNonEmpty(part.FileData.MimeType, mime, "image/png")}, nil
	}

	return ImageAsset{}, nil
}

func clampCount(count int) int {
	if count <= 0 {
		return 1
	}
	if count > 4 {
		return 4
	}
	return count
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
