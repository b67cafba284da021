// Package telegram serves signal commands to Telegram chats and delivers store alerts.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gammarips/overnightedge/internal/logger"
	"github.com/gammarips/overnightedge/internal/models"
	"github.com/gammarips/overnightedge/internal/signals"
	"github.com/gammarips/overnightedge/internal/tools"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Dispatcher runs tool calls.
type Dispatcher interface {
	Call(ctx context.Context, caller signals.Caller, name string, args map[string]any) tools.Result
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Config holds the bot token, alert destination, chat tiers and send retry policy.
type Config struct {
	BotToken string
	// AlertChatID receives store alerts. Empty disables them.
	AlertChatID string
	// ChatTiers maps chat IDs to subscription tiers. Unlisted chats are free tier.
	ChatTiers      map[string]string
	MaxRetries     int
	RetryDelayBase time.Duration
}

// Client answers bot commands and sends alerts.
type Client struct {
	bot            *tgbotapi.BotAPI
	sender         sender
	dispatcher     Dispatcher
	alertChatID    int64
	chatTiers      map[int64]models.Tier
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(cfg Config, dispatcher Dispatcher) (*Client, error) {
	var alertChatID int64
	if cfg.AlertChatID != "" {
		id, err := strconv.ParseInt(cfg.AlertChatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid alert chat ID: %w", err)
		}
		alertChatID = id
	}
	chatTiers, err := parseChatTiers(cfg.ChatTiers)
	if err != nil {
		return nil, err
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	c := newClient(bot, dispatcher, alertChatID, chatTiers, cfg.MaxRetries, cfg.RetryDelayBase)
	c.bot = bot
	return c, nil
}

func newClient(s sender, dispatcher Dispatcher, alertChatID int64, chatTiers map[int64]models.Tier, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		sender:         s,
		dispatcher:     dispatcher,
		alertChatID:    alertChatID,
		chatTiers:      chatTiers,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

func parseChatTiers(raw map[string]string) (map[int64]models.Tier, error) {
	out := make(map[int64]models.Tier, len(raw))
	for chat, tier := range raw {
		id, err := strconv.ParseInt(chat, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chat ID %q in chat tiers: %w", chat, err)
		}
		out[id] = models.ParseTier(tier)
	}
	return out, nil
}

func (c *Client) callerFor(chatID int64) signals.Caller {
	if tier, ok := c.chatTiers[chatID]; ok {
		return signals.Caller{Tier: tier}
	}
	return signals.Caller{Tier: models.TierFree}
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(ctx, update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	text := c.respond(ctx, msg.Chat.ID, msg.Command(), msg.CommandArguments())
	if text == "" {
		return
	}
	if err := c.sendMarkdownV2(msg.Chat.ID, text); err != nil {
		logger.Warn("Failed to answer /%s in chat %d: %v", msg.Command(), msg.Chat.ID, err)
	}
}

// respond builds the MarkdownV2 reply to a command. Unknown commands get no reply.
func (c *Client) respond(ctx context.Context, chatID int64, command, arguments string) string {
	caller := c.callerFor(chatID)
	fields := strings.Fields(arguments)

	switch command {
	case "ping":
		return "Pong"

	case "signals":
		args := map[string]any{}
		if len(fields) > 0 {
			args["direction"] = fields[0]
		}
		return c.render(c.dispatcher.Call(ctx, caller, tools.GetOvernightSignals, args))

	case "detail":
		if len(fields) == 0 {
			return escapeMarkdownV2("Usage: /detail TICKER")
		}
		return c.render(c.dispatcher.Call(ctx, caller, tools.GetSignalDetail, map[string]any{"ticker": fields[0]}))

	case "movers":
		args := map[string]any{}
		if len(fields) > 0 {
			args["count"] = fields[0]
		}
		return c.render(c.dispatcher.Call(ctx, caller, tools.GetTopMovers, args))

	case "themes":
		return c.render(c.dispatcher.Call(ctx, caller, tools.GetMarketThemes, nil))

	case "start", "help":
		return formatHelp()
	}
	return ""
}

func (c *Client) render(res tools.Result) string {
	switch body := res.Body.(type) {
	case *signals.Error:
		return formatError(body)
	case *signals.SignalsResponse:
		return formatSignals(body)
	case *models.Signal:
		return formatDetail(body)
	case *models.TopMovers:
		return formatMovers(body)
	case *signals.ThemesResponse:
		return formatThemes(body)
	default:
		logger.Warn("Unexpected tool result type %T", res.Body)
		return escapeMarkdownV2("Something went wrong. Try again later.")
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "MarkdownV2"
	msg.DisableWebPagePreview = true

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.sender.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a store failure alert.
// Call this only on the first occurrence of a consecutive failure sequence.
func (c *Client) SendError(storeErr error) error {
	if c.alertChatID == 0 {
		return nil
	}
	text := fmt.Sprintf("⚠️ *Store error*\n`%s`", escapeMarkdownV2(storeErr.Error()))
	return c.sendMarkdownV2(c.alertChatID, text)
}

// SendRecovery sends a recovery alert after consecutive failures.
func (c *Client) SendRecovery(store string, failureCount int) error {
	if c.alertChatID == 0 {
		return nil
	}
	text := fmt.Sprintf("✅ *%s recovered* after %d consecutive failure\\(s\\)", escapeMarkdownV2(store), failureCount)
	return c.sendMarkdownV2(c.alertChatID, text)
}
