package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/market-radar/internal/radar"
)

type fakeSender struct {
	texts []string
	err   error
}

func (f *fakeSender) SendHTML(_ context.Context, _ int64, text string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.texts = append(f.texts, text)
	return len(f.texts), nil
}

func scored(title string, score int) radar.Entity {
	return radar.Entity{
		URL:      "https://" + strings.ToLower(title) + ".dev",
		Title:    title,
		Analysis: &radar.Analysis{Score: score, Category: "SaaS"},
	}
}

func TestFormatDigestFiltersAndOrders(t *testing.T) {
	t.Parallel()

	text, n := FormatDigest([]radar.Entity{
		scored("Low", 40),
		scored("Mid", 72),
		{Title: "Unanalysed"},
		scored("Top", 91),
	}, 60)
	require.Equal(t, 2, n)
	require.Less(t, strings.Index(text, "Top"), strings.Index(text, "Mid"))
	require.NotContains(t, text, "Low")
	require.NotContains(t, text, "Unanalysed")
}

func TestFormatDigestEscapesAndCaps(t *testing.T) {
	t.Parallel()

	var entities []radar.Entity
	for i := range 15 {
		entities = append(entities, scored(fmt.Sprintf("A<%d>", i), 80))
	}
	text, n := FormatDigest(entities, 0)
	require.Equal(t, maxLines, n)
	require.Contains(t, text, "A&lt;0&gt;")
	require.NotContains(t, text, "A&lt;10&gt;")
}

func TestNotifyCreated(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	n, err := New(sender, 42, 70, nil)
	require.NoError(t, err)

	require.NoError(t, n.NotifyCreated(context.Background(), []radar.Entity{scored("Low", 10)}))
	require.Empty(t, sender.texts)

	require.NoError(t, n.NotifyCreated(context.Background(), []radar.Entity{scored("Top", 91)}))
	require.Len(t, sender.texts, 1)

	sender.err = errors.New("flood")
	require.Error(t, n.NotifyCreated(context.Background(), []radar.Entity{scored("Top", 91)}))
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, 1, 0, nil)
	require.Error(t, err)
	_, err = New(&fakeSender{}, 0, 0, nil)
	require.Error(t, err)
}

func TestBotSenderUsesHTMLMode(t *testing.T) {
	t.Parallel()

	forms := make(chan map[string]string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"radar","username":"radar_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			_ = r.ParseForm()
			forms <- map[string]string{
				"chat_id":    r.PostForm.Get("chat_id"),
				"parse_mode": r.PostForm.Get("parse_mode"),
			}
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	api, err := tgbotapi.NewBotAPIWithClient("token", srv.URL+"/bot%s/%s", srv.Client())
	require.NoError(t, err)

	id, err := NewBotSender(api).SendHTML(context.Background(), 42, "<b>hi</b>")
	require.NoError(t, err)
	require.Equal(t, 7, id)
	form := <-forms
	require.Equal(t, "42", form["chat_id"])
	require.Equal(t, tgbotapi.ModeHTML, form["parse_mode"])
}
