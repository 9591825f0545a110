// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"futures-sentinel/internal/models"
)

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration

	rsiOverbought float64
	rsiOversold   float64
}

// NewClient creates a new Telegram client. The RSI bands annotate alert
// messages with overbought/oversold markers.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration, rsiOverbought, rsiOversold float64) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	if rsiOverbought <= 0 {
		rsiOverbought = 70
	}
	if rsiOversold <= 0 {
		rsiOversold = 30
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		rsiOverbought:  rsiOverbought,
		rsiOversold:    rsiOversold,
	}, nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and
// handles bot commands. summary backs the /stats command and may be nil.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, summary func() string) {
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
					c.handleCommand(update.Message, summary)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message, summary func() string) {
	switch msg.Command() {
	case "ping":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Pong")
		c.bot.Send(reply) //nolint:errcheck
	case "stats":
		text := "No statistics recorded yet"
		if summary != nil {
			if s := summary(); s != "" {
				text = s
			}
		}
		reply := tgbotapi.NewMessage(msg.Chat.ID, text)
		c.bot.Send(reply) //nolint:errcheck
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendStartup announces the monitor coming online.
func (c *Client) SendStartup(symbols []string, interval time.Duration) error {
	text := fmt.Sprintf("🟢 *Futures Sentinel started*\nWatching %s every %s",
		escapeMarkdownV2(strings.Join(symbols, ", ")),
		escapeMarkdownV2(interval.String()))
	return c.sendMarkdownV2(text)
}

// SendError sends a monitoring error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Monitoring error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Monitoring recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// SendAlert delivers one prioritized composite signal.
func (c *Client) SendAlert(alert *models.Alert) error {
	return c.sendMarkdownV2(c.formatAlert(alert))
}

// SendSummary sends a plain-text periodic summary.
func (c *Client) SendSummary(summary string) error {
	return c.sendMarkdownV2("📊 *Hourly summary*\n" + escapeMarkdownV2(summary))
}

func (c *Client) formatAlert(alert *models.Alert) string {
	sig := alert.Signal

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s* %s \\[%s\\]\n",
		actionEmoji(sig.Action),
		escapeMarkdownV2(alert.Symbol),
		escapeMarkdownV2(string(sig.Action)),
		escapeMarkdownV2(string(sig.RiskLevel)))
	fmt.Fprintf(&b, "Priority %s \\| Confidence %s\n",
		escNum("%.2f", alert.Priority), escNum("%.2f", sig.Confidence))

	fmt.Fprintf(&b, "💰 Price %s \\(%s 5m\\)\n",
		escapeMarkdownV2(formatPrice(alert.Price)), escNum("%+.2f%%", alert.Change5m))
	fmt.Fprintf(&b, "📊 Volume %sx average", escNum("%.1f", alert.VolumeRatio))
	if alert.VolumePercentile > 0 {
		fmt.Fprintf(&b, ", p%s", escNum("%.0f", alert.VolumePercentile))
	}
	b.WriteString("\n")

	if alert.RSI14 != nil {
		note := ""
		if *alert.RSI14 >= c.rsiOverbought {
			note = " overbought"
		} else if *alert.RSI14 <= c.rsiOversold {
			note = " oversold"
		}
		fmt.Fprintf(&b, "RSI %s%s\n", escNum("%.1f", *alert.RSI14), escapeMarkdownV2(note))
	}

	if f := alert.Funding; f != nil && f.Rate != 0 {
		fmt.Fprintf(&b, "💸 Funding %s \\(%s, %sh to funding\\)\n",
			escNum("%.4f%%", f.Rate*100),
			escapeMarkdownV2(string(f.Trend)),
			escNum("%.1f", f.HoursToFunding))
	}
	if l := alert.Liquidation; l != nil && l.CascadeProbability > 0.3 {
		fmt.Fprintf(&b, "💥 Cascade risk %s %s",
			escNum("%.0f%%", l.CascadeProbability*100),
			escapeMarkdownV2(string(l.CascadeDirection)))
		if l.Estimated {
			b.WriteString(" \\(estimated\\)")
		}
		b.WriteString("\n")
	}
	if alert.Regime != "" && alert.Regime != models.RegimeUnknown {
		fmt.Fprintf(&b, "Regime %s", escapeMarkdownV2(string(alert.Regime)))
		if alert.IsOutlier {
			fmt.Fprintf(&b, " \\| outlier volZ %s priceZ %s",
				escNum("%.1f", alert.VolumeZScore), escNum("%.1f", alert.PriceZScore))
		}
		b.WriteString("\n")
	}

	b.WriteString("\nSignals:\n")
	for _, comp := range sig.Components {
		fmt.Fprintf(&b, "  • %s %s\n",
			escapeMarkdownV2(string(comp.Type)),
			escNum("(%.2f)", comp.Confidence))
	}

	fmt.Fprintf(&b, "\n🕐 %s UTC",
		escapeMarkdownV2(alert.Timestamp.UTC().Format("2006-01-02 15:04:05")))
	return b.String()
}

func actionEmoji(action models.Action) string {
	switch action {
	case models.ActionStrongBuy, models.ActionBuy:
		return "🟢"
	case models.ActionStrongSell, models.ActionSell:
		return "🔴"
	case models.ActionFundingLong, models.ActionFundingShort:
		return "💸"
	case models.ActionWatch:
		return "👀"
	default:
		return "⚪"
	}
}

// escNum formats a number and escapes it for MarkdownV2.
func escNum(format string, v float64) string {
	return escapeMarkdownV2(fmt.Sprintf(format, v))
}

// formatPrice keeps sub-dollar pairs readable without drowning majors in
// decimals.
func formatPrice(price float64) string {
	if price >= 1 {
		return fmt.Sprintf("%.2f", price)
	}
	return fmt.Sprintf("%.6f", price)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
