package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockTelegramBot struct {
	mu       sync.Mutex
	updates  chan tgbotapi.Update
	sent     []tgbotapi.MessageConfig
	failHTML bool
	sendErr  error
	attempts int
	stopped  bool
	lastCfg  tgbotapi.UpdateConfig
}

func newMockTelegramBot() *mockTelegramBot {
	return &mockTelegramBot{updates: make(chan tgbotapi.Update, 8)}
}

func (m *mockTelegramBot) GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	m.mu.Lock()
	m.lastCfg = cfg
	m.mu.Unlock()
	return m.updates
}

func (m *mockTelegramBot) StopReceivingUpdates() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
}

func (m *mockTelegramBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := c.(tgbotapi.MessageConfig)
	m.attempts++
	if m.sendErr != nil {
		return tgbotapi.Message{}, m.sendErr
	}
	if m.failHTML && msg.ParseMode == tgbotapi.ModeHTML {
		return tgbotapi.Message{}, &tgbotapi.Error{Code: 400, Message: "Bad Request: can't parse entities: unsupported start tag"}
	}
	m.sent = append(m.sent, msg)
	return tgbotapi.Message{}, nil
}

func (m *mockTelegramBot) GetSelf() tgbotapi.User {
	return tgbotapi.User{ID: 99, UserName: "calbot"}
}

func newTestTelegram(t *testing.T, bot *mockTelegramBot) *Telegram {
	t.Helper()
	tg, err := NewTelegramWithFactory(TelegramConfig{Token: "123:abc"}, func(token, endpoint string, _ *http.Client) (TelegramBot, error) {
		assert.Equal(t, "123:abc", token)
		assert.Equal(t, tgbotapi.APIEndpoint, endpoint)
		return bot, nil
	})
	require.NoError(t, err)
	return tg
}

type recordingHandler struct {
	mu   sync.Mutex
	msgs []InboundMessage
	invs []InvitationEvent
}

func (r *recordingHandler) HandleMessage(_ context.Context, msg InboundMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recordingHandler) HandleInvitation(_ context.Context, inv InvitationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invs = append(r.invs, inv)
}

func (r *recordingHandler) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs), len(r.invs)
}

func TestNewTelegramRequiresToken(t *testing.T) {
	_, err := NewTelegramWithFactory(TelegramConfig{}, nil)
	assert.ErrorContains(t, err, "token is required")
}

func TestNewTelegramBadProxy(t *testing.T) {
	_, err := NewTelegramWithFactory(TelegramConfig{Token: "x", Proxy: "://bad"}, nil)
	assert.ErrorContains(t, err, "parse proxy url")
}

func TestNewTelegramFactoryError(t *testing.T) {
	_, err := NewTelegramWithFactory(TelegramConfig{Token: "x"}, func(string, string, *http.Client) (TelegramBot, error) {
		return nil, errors.New("unauthorized")
	})
	assert.ErrorContains(t, err, "unauthorized")
}

func TestTelegramUserID(t *testing.T) {
	tg := newTestTelegram(t, newMockTelegramBot())
	assert.Equal(t, "@calbot", tg.UserID())
	assert.Equal(t, "7", telegramUserID(tgbotapi.User{ID: 7}))
	assert.NoError(t, tg.Join(context.Background(), "-100"))
}

func TestTelegramRunDispatches(t *testing.T) {
	bot := newMockTelegramBot()
	tg := newTestTelegram(t, bot)
	h := &recordingHandler{}

	bot.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 1, UserName: "alice"},
		Chat: &tgbotapi.Chat{ID: -100},
		Text: "!meeting",
	}}
	// Non-text messages are dropped.
	bot.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 1, UserName: "alice"},
		Chat: &tgbotapi.Chat{ID: -100},
	}}
	bot.updates <- tgbotapi.Update{MyChatMember: &tgbotapi.ChatMemberUpdated{
		Chat:          tgbotapi.Chat{ID: -200},
		NewChatMember: tgbotapi.ChatMember{User: &tgbotapi.User{ID: 99, UserName: "calbot"}, Status: "member"},
	}}
	// Being removed is not an invitation.
	bot.updates <- tgbotapi.Update{MyChatMember: &tgbotapi.ChatMemberUpdated{
		Chat:          tgbotapi.Chat{ID: -300},
		NewChatMember: tgbotapi.ChatMember{User: &tgbotapi.User{ID: 99, UserName: "calbot"}, Status: "left"},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tg.Run(ctx, h) }()

	require.Eventually(t, func() bool {
		m, i := h.counts()
		return m == 1 && i == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, InboundMessage{Sender: "@alice", RoomID: "-100", RoomState: RoomJoined, Body: "!meeting"}, h.msgs[0])
	assert.Equal(t, InvitationEvent{TargetUserID: "@calbot", RoomID: "-200"}, h.invs[0])

	bot.mu.Lock()
	defer bot.mu.Unlock()
	assert.True(t, bot.stopped)
	assert.Equal(t, []string{"message", "my_chat_member"}, bot.lastCfg.AllowedUpdates)
}

func TestTelegramRunClosedChannel(t *testing.T) {
	bot := newMockTelegramBot()
	tg := newTestTelegram(t, bot)
	close(bot.updates)
	assert.Error(t, tg.Run(context.Background(), &recordingHandler{}))
}

func TestTelegramSend(t *testing.T) {
	bot := newMockTelegramBot()
	tg := newTestTelegram(t, bot)

	require.NoError(t, tg.Send(context.Background(), "-100", "# Next Meeting/Event\n\n**[Sync](https://x/?a=1&b=2)**\n* Location: <lab>\n"))
	require.Len(t, bot.sent, 1)
	assert.Equal(t, int64(-100), bot.sent[0].ChatID)
	assert.Equal(t, tgbotapi.ModeHTML, bot.sent[0].ParseMode)
	assert.Equal(t,
		"<b>Next Meeting/Event</b>\n\n<b><a href=\"https://x/?a=1&amp;b=2\">Sync</a></b>\n• Location: &lt;lab&gt;\n",
		bot.sent[0].Text)
}

func TestTelegramSendPlainFallback(t *testing.T) {
	bot := newMockTelegramBot()
	bot.failHTML = true
	tg := newTestTelegram(t, bot)

	require.NoError(t, tg.Send(context.Background(), "5", "**hi**"))
	require.Len(t, bot.sent, 1)
	assert.Empty(t, bot.sent[0].ParseMode)
	assert.Equal(t, "**hi**", bot.sent[0].Text)
	assert.Equal(t, 2, bot.attempts)
}

func TestTelegramSendNoResendOnOtherErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"transport", errors.New("dial tcp: connection refused")},
		{"chat not found", &tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}},
		{"forbidden", &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was kicked"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot := newMockTelegramBot()
			bot.sendErr = tt.err
			tg := newTestTelegram(t, bot)

			err := tg.Send(context.Background(), "5", "**hi**")
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, 1, bot.attempts)
		})
	}
}

func TestTelegramSendErrors(t *testing.T) {
	bot := newMockTelegramBot()
	tg := newTestTelegram(t, bot)
	assert.ErrorContains(t, tg.Send(context.Background(), "!room:x", "hi"), "invalid chat id")

	bot.sendErr = errors.New("forbidden")
	assert.ErrorContains(t, tg.Send(context.Background(), "5", "hi"), "forbidden")
}

func TestSplitMessage(t *testing.T) {
	assert.Nil(t, splitMessage("", 10))
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))
	assert.Equal(t, []string{"aaaa\n", "bbbb"}, splitMessage("aaaa\nbbbb", 6))
	assert.Equal(t, []string{"abcdef", "ghij"}, splitMessage("abcdefghij", 6))

	long := strings.Repeat("line of text\n", 1000)
	parts := splitMessage(long, telegramMaxLen)
	assert.Greater(t, len(parts), 1)
	assert.Equal(t, long, strings.Join(parts, ""))
	for _, p := range parts {
		assert.LessOrEqual(t, len(p), telegramMaxLen)
	}

	// "é" is two bytes; a byte cut at 5 would split the fourth one.
	accents := strings.Repeat("é", 6)
	parts = splitMessage(accents, 5)
	assert.Equal(t, []string{"éé", "éé", "éé"}, parts)
	for _, p := range parts {
		assert.True(t, utf8.ValidString(p), p)
	}
	assert.Equal(t, []string{"日", "本"}, splitMessage("日本", 2))
}
