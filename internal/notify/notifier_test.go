package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type captured struct {
	mu    sync.Mutex
	paths []string
	body  []map[string]string
}

func (c *captured) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var m map[string]string
		_ = json.NewDecoder(r.Body).Decode(&m)
		c.mu.Lock()
		c.paths = append(c.paths, r.URL.Path)
		c.body = append(c.body, m)
		c.mu.Unlock()
		w.WriteHeader(status)
	}
}

func TestNotifier_TelegramAndDiscord(t *testing.T) {
	var tg, dc captured
	tgSrv := httptest.NewServer(tg.handler(http.StatusOK))
	defer tgSrv.Close()
	dcSrv := httptest.NewServer(dc.handler(http.StatusNoContent))
	defer dcSrv.Close()

	n := New(Config{
		TelegramAPI:       tgSrv.URL,
		TelegramToken:     "tok",
		TelegramChatID:    "42",
		DiscordWebhookURL: dcSrv.URL + "/hook",
		Events:            []string{"position_dropped"},
	}, discard())
	require.Equal(t, 2, n.Senders())

	require.NoError(t, n.Notify(context.Background(), "position_dropped", "Position dropped", "ABC after 10 failures"))

	require.Len(t, tg.paths, 1)
	assert.Equal(t, "/bottok/sendMessage", tg.paths[0])
	assert.Equal(t, "42", tg.body[0]["chat_id"])
	assert.Contains(t, tg.body[0]["text"], "*Position dropped*")

	require.Len(t, dc.paths, 1)
	assert.Equal(t, "/hook", dc.paths[0])
	assert.Contains(t, dc.body[0]["content"], "**Position dropped**")
}

func TestNotifier_FiltersEvents(t *testing.T) {
	var dc captured
	srv := httptest.NewServer(dc.handler(http.StatusNoContent))
	defer srv.Close()

	n := New(Config{DiscordWebhookURL: srv.URL, Events: []string{"position_closed"}}, discard())
	require.NoError(t, n.Notify(context.Background(), "buy_filled", "t", "m"))
	assert.Empty(t, dc.paths)
}

func TestNotifier_SenderFailure(t *testing.T) {
	var bad, good captured
	badSrv := httptest.NewServer(bad.handler(http.StatusInternalServerError))
	defer badSrv.Close()
	goodSrv := httptest.NewServer(good.handler(http.StatusNoContent))
	defer goodSrv.Close()

	n := NewNotifier([]Sender{NewDiscordSender(badSrv.URL), NewDiscordSender(goodSrv.URL)}, nil, discard())
	err := n.Notify(context.Background(), "any", "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 500")
	assert.Len(t, good.paths, 1)
}

func TestNotifier_NoSenders(t *testing.T) {
	n := New(Config{}, discard())
	assert.Zero(t, n.Senders())
	assert.NoError(t, n.Notify(context.Background(), "position_dropped", "t", "m"))
}
