package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultAPIURL = "https://api.telegram.org"

// APIError is a Bot API call that came back with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// IsUnreachable reports whether the chat refuses messages from the bot,
// usually because the user blocked it.
func IsUnreachable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusForbidden
}

type Client struct {
	httpClient *http.Client
	baseURL    string
}

func NewClient(token string) *Client {
	return NewClientWithURL(defaultAPIURL, token)
}

// NewClientWithURL talks to a Bot API server other than api.telegram.org,
// such as a self-hosted one.
func NewClientWithURL(apiURL, token string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    fmt.Sprintf("%s/bot%s", strings.TrimRight(apiURL, "/"), token),
	}
}

func (c *Client) call(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	var apiResp APIResponse
	if err := json.Unmarshal(data, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	if !apiResp.OK {
		code := apiResp.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return nil, &APIError{Method: method, Code: code, Description: apiResp.Description}
	}

	return apiResp.Result, nil
}

func encodeMarkup(replyMarkup any) (json.RawMessage, error) {
	if replyMarkup == nil {
		return nil, nil
	}
	return json.Marshal(replyMarkup)
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text, parseMode string, replyMarkup any) (int64, error) {
	rm, err := encodeMarkup(replyMarkup)
	if err != nil {
		return 0, err
	}
	req := SendMessageRequest{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   parseMode,
		ReplyMarkup: rm,
	}

	result, err := c.call(ctx, "sendMessage", req)
	if err != nil {
		return 0, err
	}

	var msg MessageResult
	if err := json.Unmarshal(result, &msg); err != nil {
		return 0, fmt.Errorf("unmarshal message: %w", err)
	}
	return msg.MessageID, nil
}

// EditMessageText replaces a message's text. A nil replyMarkup removes the
// inline keyboard.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text, parseMode string, replyMarkup any) error {
	rm, err := encodeMarkup(replyMarkup)
	if err != nil {
		return err
	}
	req := EditMessageTextRequest{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        text,
		ParseMode:   parseMode,
		ReplyMarkup: rm,
	}

	_, err = c.call(ctx, "editMessageText", req)
	return err
}

func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID, text string, showAlert bool) error {
	req := AnswerCallbackQueryRequest{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       showAlert,
	}
	_, err := c.call(ctx, "answerCallbackQuery", req)
	return err
}

func (c *Client) AnswerPreCheckoutQuery(ctx context.Context, queryID string, ok bool, errorMessage string) error {
	req := AnswerPreCheckoutQueryRequest{
		PreCheckoutQueryID: queryID,
		OK:                 ok,
		ErrorMessage:       errorMessage,
	}
	_, err := c.call(ctx, "answerPreCheckoutQuery", req)
	return err
}

func (c *Client) SetWebhook(ctx context.Context, url, secretToken string) error {
	req := SetWebhookRequest{URL: url, SecretToken: secretToken}
	_, err := c.call(ctx, "setWebhook", req)
	return err
}

func (c *Client) DeleteWebhook(ctx context.Context) error {
	_, err := c.call(ctx, "deleteWebhook", struct{}{})
	return err
}
