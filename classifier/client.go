package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/liamvmurphy/pokestock-sub001/config"
	"github.com/liamvmurphy/pokestock-sub001/models"
)

// ErrClassification covers every failure mode of a classification call:
// transport errors, timeouts, non-200 responses and unparseable output.
// Callers fall back to raw persistence; they never retry inline.
var ErrClassification = errors.New("classification failed")

const systemPrompt = `You identify Pokemon trading card products from marketplace listings.
Given a listing title, price and optional screenshot, respond with a JSON object:
{"item_name": string, "set_name": string, "product_type": string, "condition": string, "language": string, "confidence": number, "authenticity": string}
product_type is one of: etb, booster_box, booster_pack, single_card, graded_card, tin, collection_box, bundle, other.
condition is one of: sealed, near_mint, played, damaged, unknown.
language is one of: english, japanese, other, unknown.
authenticity is one of: likely_genuine, suspicious, unknown.
confidence is 0.0-1.0 for the overall identification. Respond with JSON only.`

// Client calls a chat-completions compatible endpoint to turn a raw
// listing into structured card attributes.
type Client struct {
	cfg        config.ClassifierConfig
	httpClient *http.Client
}

func New(cfg config.ClassifierConfig, httpClient *http.Client) *Client {
	return &Client{cfg: cfg, httpClient: httpClient}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Classify identifies the product in raw. The call is bounded by the
// configured timeout on top of whatever deadline ctx already carries.
func (c *Client) Classify(ctx context.Context, raw models.RawListing) (models.Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	userParts := []contentPart{{
		Type: "text",
		Text: fmt.Sprintf("Title: %s\nPrice: %s\nLocation: %s", raw.Title, raw.PriceText, raw.LocationText),
	}}
	if raw.Screenshot != "" {
		userParts = append(userParts, contentPart{
			Type:     "image_url",
			ImageURL: &imageURL{URL: "data:image/png;base64," + raw.Screenshot},
		})
	}

	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: []contentPart{{Type: "text", Text: systemPrompt}}},
			{Role: "user", Content: userParts},
		},
		MaxTokens:      300,
		ResponseFormat: &respFormat{Type: "json_object"},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return models.Classification{}, fmt.Errorf("%w: marshal request: %v", ErrClassification, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return models.Classification{}, fmt.Errorf("%w: %v", ErrClassification, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Classification{}, fmt.Errorf("%w: %v", ErrClassification, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.Classification{}, fmt.Errorf("%w: read response: %v", ErrClassification, err)
	}
	if resp.StatusCode != http.StatusOK {
		return models.Classification{}, fmt.Errorf("%w: status %d: %s", ErrClassification, resp.StatusCode, truncate(string(body), 200))
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return models.Classification{}, fmt.Errorf("%w: decode response: %v", ErrClassification, err)
	}
	if cr.Error != nil {
		return models.Classification{}, fmt.Errorf("%w: %s", ErrClassification, cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return models.Classification{}, fmt.Errorf("%w: empty choices", ErrClassification)
	}

	return parseAttributes(cr.Choices[0].Message.Content)
}

type attributePayload struct {
	ItemName     string  `json:"item_name"`
	SetName      string  `json:"set_name"`
	ProductType  string  `json:"product_type"`
	Condition    string  `json:"condition"`
	Language     string  `json:"language"`
	Confidence   float64 `json:"confidence"`
	Authenticity string  `json:"authenticity"`
}

func parseAttributes(content string) (models.Classification, error) {
	// Some models wrap JSON in a markdown fence despite json_object mode.
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var attrs attributePayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &attrs); err != nil {
		return models.Classification{}, fmt.Errorf("%w: parse attributes: %v", ErrClassification, err)
	}
	if attrs.ItemName == "" {
		return models.Classification{}, fmt.Errorf("%w: missing item_name", ErrClassification)
	}

	if attrs.Confidence < 0 {
		attrs.Confidence = 0
	}
	if attrs.Confidence > 1 {
		attrs.Confidence = 1
	}

	return models.Classification{
		ItemName:     attrs.ItemName,
		SetName:      attrs.SetName,
		ProductType:  attrs.ProductType,
		Condition:    attrs.Condition,
		Language:     attrs.Language,
		Confidence:   attrs.Confidence,
		Authenticity: attrs.Authenticity,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
