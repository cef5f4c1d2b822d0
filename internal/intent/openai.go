package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrClassifierUnavailable is returned when the model endpoint fails or answers
// with something that is not a classification.
var ErrClassifierUnavailable = errors.New("classifier unavailable")

const systemPrompt = `Classify the user's message into exactly one of: send_money, request_payment, get_balance.
Answer with a JSON object only, with key "action".
For send_money and request_payment also return "to" (the recipient) and "amount" (as a string).`

// OpenAIClassifier calls an OpenAI-compatible chat completions endpoint.
type OpenAIClassifier struct {
	client *resty.Client
	model  string
}

// NewOpenAIClassifier builds a classifier against baseURL (for example
// https://api.openai.com/v1).
func NewOpenAIClassifier(baseURL, apiKey, model string, timeout time.Duration) *OpenAIClassifier {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &OpenAIClassifier{client: client, model: model}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type classification struct {
	Action string      `json:"action"`
	To     looseString `json:"to"`
	Amount looseString `json:"amount"`
}

// looseString accepts JSON strings and numbers; models are not consistent.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = looseString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*s = looseString(num.String())
	return nil
}

// Classify implements Classifier.
func (c *OpenAIClassifier) Classify(ctx context.Context, text string) (Intent, error) {
	var out chatResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model: c.model,
			Messages: []chatMessage{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: text},
			},
			MaxTokens:      200,
			ResponseFormat: map[string]string{"type": "json_object"},
		}).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: status %d", ErrClassifierUnavailable, resp.StatusCode())
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty completion", ErrClassifierUnavailable)
	}

	var cls classification
	content := stripFence(out.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &cls); err != nil {
		return nil, fmt.Errorf("%w: unparsable completion: %v", ErrClassifierUnavailable, err)
	}
	return FromAction(cls.Action, string(cls.To), string(cls.Amount)), nil
}

// stripFence removes a markdown code fence around a JSON answer.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
