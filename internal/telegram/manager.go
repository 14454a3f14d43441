package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// WebhookPath is where Telegram posts updates.
const WebhookPath = "/webhook/telegram"

const (
	secretHeader  = "X-Telegram-Bot-Api-Secret-Token"
	updateTimeout = 30 * time.Second
)

// BotManager owns the webhook registration of the bot and feeds incoming
// updates to the UpdateHandler on a bounded pool of workers.
type BotManager struct {
	client         *Client
	handler        *UpdateHandler
	webhookBaseURL string
	webhookSecret  string
	pool           *workerpool.WorkerPool
	log            zerolog.Logger
}

func NewBotManager(client *Client, handler *UpdateHandler, webhookBaseURL, webhookSecret string, workers int, log zerolog.Logger) *BotManager {
	if workers <= 0 {
		workers = 1
	}
	return &BotManager{
		client:         client,
		handler:        handler,
		webhookBaseURL: strings.TrimRight(webhookBaseURL, "/"),
		webhookSecret:  webhookSecret,
		pool:           workerpool.New(workers),
		log:            log.With().Str("component", "telegram_bot").Logger(),
	}
}

// Start registers the webhook. Without a base URL the bot only sends.
func (m *BotManager) Start(ctx context.Context) error {
	if m.webhookBaseURL == "" {
		m.log.Warn().Msg("WEBHOOK_BASE_URL is empty, not registering a webhook")
		return nil
	}
	url := m.webhookBaseURL + WebhookPath
	if err := m.client.SetWebhook(ctx, url, m.webhookSecret); err != nil {
		return err
	}
	m.log.Info().Str("webhook", url).Msg("bot started")
	return nil
}

// Stop drains queued updates and removes the webhook.
func (m *BotManager) Stop(ctx context.Context) {
	m.pool.StopWait()
	if m.webhookBaseURL == "" {
		return
	}
	if err := m.client.DeleteWebhook(ctx); err != nil {
		m.log.Warn().Err(err).Msg("failed to delete webhook")
	}
	m.log.Info().Msg("bot stopped")
}

func (m *BotManager) HandleWebhook(c *gin.Context) {
	if m.webhookSecret != "" && c.GetHeader(secretHeader) != m.webhookSecret {
		c.Status(http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	var upd Update
	if err := json.Unmarshal(body, &upd); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	m.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), updateTimeout)
		defer cancel()
		m.handler.Handle(ctx, upd)
	})

	c.Status(http.StatusOK)
}
