package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	appLog "icalbot/internal/log"
)

// telegramMaxLen keeps chunks under Telegram's 4096 character limit.
const telegramMaxLen = 4000

// TelegramBot is the subset of tgbotapi.BotAPI the gateway uses.
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetSelf() tgbotapi.User
}

type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() { w.bot.StopReceivingUpdates() }

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User { return w.bot.Self }

// BotFactory creates TelegramBot instances.
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

// TelegramConfig holds the bot token and an optional HTTP proxy URL.
type TelegramConfig struct {
	Token string
	Proxy string
}

// Telegram is a long-polling Telegram bot gateway. Chat ids are rooms;
// being added to a group counts as an invitation.
type Telegram struct {
	bot  TelegramBot
	self string
}

// NewTelegram authorizes with the Bot API.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	return NewTelegramWithFactory(cfg, defaultBotFactory)
}

// NewTelegramWithFactory is NewTelegram with a custom bot factory.
func NewTelegramWithFactory(cfg TelegramConfig, factory BotFactory) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is required")
	}

	client := http.DefaultClient
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}

	bot, err := factory(cfg.Token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	t := &Telegram{bot: bot, self: telegramUserID(bot.GetSelf())}
	appLog.Info("telegram: authorized", "user", t.self)
	return t, nil
}

// UserID returns "@" + the bot's username.
func (t *Telegram) UserID() string { return t.self }

// Join is a no-op: Telegram bots are members as soon as they are added.
func (t *Telegram) Join(context.Context, string) error { return nil }

// Run polls for updates until ctx is cancelled.
func (t *Telegram) Run(ctx context.Context, h Handler) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message", "my_chat_member"}
	updates := t.bot.GetUpdatesChan(u)
	defer t.bot.StopReceivingUpdates()

	appLog.Info("telegram: polling started")
	for {
		select {
		case <-ctx.Done():
			appLog.Info("telegram: polling stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return errors.New("telegram: update channel closed")
			}
			t.dispatch(ctx, update, h)
		}
	}
}

func (t *Telegram) dispatch(ctx context.Context, update tgbotapi.Update, h Handler) {
	if m := update.MyChatMember; m != nil {
		status := m.NewChatMember.Status
		if status != "member" && status != "administrator" {
			return
		}
		if m.NewChatMember.User == nil {
			return
		}
		h.HandleInvitation(ctx, InvitationEvent{
			TargetUserID: telegramUserID(*m.NewChatMember.User),
			RoomID:       strconv.FormatInt(m.Chat.ID, 10),
		})
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.Text == "" {
		return
	}
	h.HandleMessage(ctx, InboundMessage{
		Sender:    telegramUserID(*msg.From),
		RoomID:    strconv.FormatInt(msg.Chat.ID, 10),
		RoomState: RoomJoined,
		Body:      msg.Text,
	})
}

// Send posts markdown as Telegram HTML, split into chunks. A chunk whose
// HTML the API cannot parse is resent as plain text; any other failure is
// returned as is.
func (t *Telegram) Send(_ context.Context, room, markdown string) error {
	chatID, err := strconv.ParseInt(room, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", room, err)
	}

	for _, chunk := range splitMessage(markdown, telegramMaxLen) {
		msg := tgbotapi.NewMessage(chatID, toTelegramHTML(chunk))
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		if _, err := t.bot.Send(msg); err != nil {
			if !isEntityParseError(err) {
				return fmt.Errorf("send telegram message: %w", err)
			}
			appLog.Debug("telegram: html send rejected, retrying as plain text", "chat", room, "err", err.Error())
			msg.ParseMode = ""
			msg.Text = chunk
			if _, err2 := t.bot.Send(msg); err2 != nil {
				return fmt.Errorf("send telegram message: %w", err2)
			}
		}
	}
	return nil
}

// isEntityParseError reports whether the Bot API refused a message because
// its formatting entities could not be parsed.
func isEntityParseError(err error) bool {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusBadRequest {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "can't parse entities")
}

func telegramUserID(u tgbotapi.User) string {
	if u.UserName != "" {
		return "@" + u.UserName
	}
	return strconv.FormatInt(u.ID, 10)
}

// splitMessage cuts s into pieces of at most limit bytes, preferring to
// break after a newline. Cuts never fall inside a UTF-8 sequence.
func splitMessage(s string, limit int) []string {
	var out []string
	for len(s) > limit {
		cut := strings.LastIndex(s[:limit], "\n")
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(s[cut]) {
				cut--
			}
			if cut == 0 {
				_, cut = utf8.DecodeRuneInString(s)
			}
		} else {
			cut++
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

var (
	mdHeading = regexp.MustCompile(`(?m)^#{1,6} +(.+)$`)
	mdLink    = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
	mdBold    = regexp.MustCompile(`\*\*(.+?)\*\*`)
	mdBullet  = regexp.MustCompile(`(?m)^\* `)
)

// toTelegramHTML converts the small markdown subset the formatter emits.
func toTelegramHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")

	s = mdHeading.ReplaceAllString(s, "<b>$1</b>")
	s = mdLink.ReplaceAllString(s, `<a href="$2">$1</a>`)
	s = mdBold.ReplaceAllString(s, "<b>$1</b>")
	s = mdBullet.ReplaceAllString(s, "• ")
	return s
}
