package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"krontab/internal/adapter/journal"
	"krontab/internal/shared"
)

// maxErrorText keeps messages under Telegram's 4096 character limit.
const maxErrorText = 3000

// Telegram sends failure notifications to a single chat.
type Telegram struct {
	bot      *bot.Bot
	chatID   int64
	cooldown *Cooldown
	log      *slog.Logger
}

// TelegramOption configures a Telegram notifier.
type TelegramOption func(*telegramOptions)

type telegramOptions struct {
	serverURL string
	cooldown  time.Duration
	log       *slog.Logger
}

// WithServerURL points the client at a different Bot API server.
func WithServerURL(url string) TelegramOption {
	return func(o *telegramOptions) { o.serverURL = url }
}

// WithCooldown sets the minimum interval between notifications for one job.
func WithCooldown(d time.Duration) TelegramOption {
	return func(o *telegramOptions) { o.cooldown = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) TelegramOption {
	return func(o *telegramOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// NewTelegram creates a notifier. The token is not checked against the API
// until the first message is sent.
func NewTelegram(token string, chatID int64, opts ...TelegramOption) (*Telegram, error) {
	o := telegramOptions{cooldown: 5 * time.Minute, log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	botOpts := []bot.Option{bot.WithSkipGetMe()}
	if o.serverURL != "" {
		botOpts = append(botOpts, bot.WithServerURL(o.serverURL))
	}
	b, err := bot.New(token, botOpts...)
	if err != nil {
		return nil, shared.Wrap(err, "notify: telegram")
	}
	return &Telegram{
		bot:      b,
		chatID:   chatID,
		cooldown: NewCooldown(o.cooldown),
		log:      o.log.With(slog.String("component", "notify")),
	}, nil
}

func (t *Telegram) Notify(ctx context.Context, run journal.Run) error {
	if !t.cooldown.Allow(run.Job) {
		t.log.Debug("notification suppressed", slog.String("job", run.Job))
		return nil
	}
	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    t.chatID,
		Text:      formatRun(run),
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		return shared.MarkKind(fmt.Errorf("notify: send telegram message: %w", err), shared.KindDependencyFailure)
	}
	return nil
}

func formatRun(run journal.Run) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>krontab</b>: job <code>%s</code> %s\n", html.EscapeString(run.Job), run.Status)
	if !run.ScheduledAt.IsZero() {
		fmt.Fprintf(&sb, "scheduled: %s\n", run.ScheduledAt.Format(time.RFC3339))
	}
	fmt.Fprintf(&sb, "attempts: %d, took %s\n", run.Attempts, run.Duration().Round(time.Millisecond))
	if run.Error != "" {
		msg := run.Error
		if len(msg) > maxErrorText {
			msg = strings.ToValidUTF8(msg[:maxErrorText], "") + "…"
		}
		fmt.Fprintf(&sb, "<pre>%s</pre>", html.EscapeString(msg))
	}
	return sb.String()
}

var (
	_ Notifier = (*Telegram)(nil)
	_ Notifier = Nop{}
)
