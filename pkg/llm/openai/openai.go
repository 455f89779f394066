// Package openai implements the language model service boundary against
// OpenAI-compatible chat completion APIs.
//
// Responses are requested in JSON mode and decoded strictly into the typed
// result objects; anything that does not decode is reported as
// llm.ErrUnavailable rather than scraped for fragments of usable text.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"

	"github.com/entrhq/mend/pkg/llm"
)

const (
	// DefaultBaseURL is the default OpenAI API base URL
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is used when no model is configured
	DefaultModel = "gpt-4o"

	// DefaultTimeout bounds every service call
	DefaultTimeout = 30 * time.Second
)

// Client implements llm.Service against an OpenAI-compatible API.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithModel sets the model to use for completions.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// WithBaseURL sets a custom base URL for OpenAI-compatible APIs.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// NewClient creates a client. An empty apiKey falls back to the
// OPENAI_API_KEY environment variable; an unset base URL falls back to
// OPENAI_BASE_URL, then the public API.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (provide via parameter or OPENAI_API_KEY environment variable)")
	}

	c := &Client{
		httpClient: &http.Client{},
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.baseURL == DefaultBaseURL {
		if envBaseURL := os.Getenv("OPENAI_BASE_URL"); envBaseURL != "" {
			c.baseURL = envBaseURL
		}
	}
	return c, nil
}

// SuggestLocator proposes a locator for a described element. When the
// request carries a screenshot, it is attached as an image part for
// vision-capable models.
func (c *Client) SuggestLocator(ctx context.Context, req llm.SuggestRequest) (*llm.Suggestion, error) {
	system := "You locate elements on web pages. " +
		"Respond with a single JSON object: " +
		`{"locator": "<locator string>", "confidence": <0.0-1.0>, "reason": "<short reason>"}. ` +
		"Locator strings may use text=, role=, [aria-label=], [placeholder=], xpath=, or CSS syntax. " +
		"If you cannot identify the element, use an empty locator."

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Find the element described as: %s\n", req.Description)
	if req.FailedLocator != "" {
		fmt.Fprintf(&prompt, "A previous locator no longer works: %s\n", req.FailedLocator)
	}
	if req.ErrorText != "" {
		fmt.Fprintf(&prompt, "The failure was: %s\n", req.ErrorText)
	}
	if req.PageContext != "" {
		fmt.Fprintf(&prompt, "\nCurrent page:\n%s\n", req.PageContext)
	}

	content, err := c.complete(ctx, system, prompt.String(), req.Screenshot)
	if err != nil {
		return nil, err
	}

	var suggestion llm.Suggestion
	if err := decodeStrict(content, &suggestion); err != nil {
		return nil, fmt.Errorf("%w: non-conforming suggestion response: %v", llm.ErrUnavailable, err)
	}
	if suggestion.Locator == "" {
		return nil, fmt.Errorf("%w: model could not identify the element", llm.ErrUnavailable)
	}
	if suggestion.Confidence < 0 || suggestion.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v out of range", llm.ErrUnavailable, suggestion.Confidence)
	}
	return &suggestion, nil
}

// RegenerateCode rewrites a failing generated code fragment.
func (c *Client) RegenerateCode(ctx context.Context, req llm.RegenerateRequest) (*llm.Regenerated, error) {
	system := "You repair failing browser automation code fragments. " +
		"Respond with a single JSON object: " +
		`{"fragment": "<the corrected fragment>", "explanation": "<what changed>"}. ` +
		"Keep the fragment's structure; change only what the error requires."

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "This fragment failed:\n%s\n\nError:\n%s\n", req.Fragment, req.ErrorText)
	if req.PageContext != "" {
		fmt.Fprintf(&prompt, "\nCurrent page:\n%s\n", req.PageContext)
	}

	content, err := c.complete(ctx, system, prompt.String(), nil)
	if err != nil {
		return nil, err
	}

	var regenerated llm.Regenerated
	if err := decodeStrict(content, &regenerated); err != nil {
		return nil, fmt.Errorf("%w: non-conforming regeneration response: %v", llm.ErrUnavailable, err)
	}
	if regenerated.Fragment == "" {
		return nil, fmt.Errorf("%w: empty regenerated fragment", llm.ErrUnavailable)
	}
	return &regenerated, nil
}

// complete sends one bounded chat completion request and returns the
// assistant message content.
func (c *Client) complete(ctx context.Context, system, prompt string, screenshot []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqBody := map[string]interface{}{
		"model":           c.model,
		"messages":        buildMessages(system, prompt, screenshot),
		"response_format": map[string]string{"type": "json_object"},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("%w: failed to marshal request: %v", llm.ErrUnavailable, err)
	}

	url := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %v", llm.ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Caller-initiated cancellation must surface as cancellation, not
		// as a soft service failure
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: request failed: %v", llm.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: API request failed with status %d: %s", llm.ErrUnavailable, resp.StatusCode, string(body))
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %v", llm.ErrUnavailable, err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: empty completion", llm.ErrUnavailable)
	}
	return completion.Choices[0].Message.Content, nil
}

// buildMessages assembles the chat messages. Text-only requests use the SDK
// message constructors; screenshot requests need a content-part array, which
// is built directly.
func buildMessages(system, prompt string, screenshot []byte) []interface{} {
	if len(screenshot) == 0 {
		return []interface{}{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		}
	}

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(screenshot)
	return []interface{}{
		openai.SystemMessage(system),
		map[string]interface{}{
			"role": "user",
			"content": []interface{}{
				map[string]interface{}{"type": "text", "text": prompt},
				map[string]interface{}{
					"type":      "image_url",
					"image_url": map[string]string{"url": dataURL},
				},
			},
		},
	}
}

// decodeStrict decodes a JSON object rejecting unknown fields and trailing
// content, so prose-wrapped or partial responses fail cleanly.
func decodeStrict(content string, target interface{}) error {
	decoder := json.NewDecoder(strings.NewReader(content))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return err
	}
	if decoder.More() {
		return fmt.Errorf("trailing content after JSON object")
	}
	return nil
}
