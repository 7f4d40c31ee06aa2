package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct{ channel, text string }

type memorySender struct {
	msgs []sent
	err  error
}

func (m *memorySender) Send(ctx context.Context, channel, text string) error {
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, sent{channel, text})
	return nil
}

func TestChannels(t *testing.T) {
	s := &memorySender{}
	n := New(s, Channels{Normal: "ops", Error: "alerts"}, 0)
	ctx := context.Background()

	require.NoError(t, n.Log(ctx, "hello"))
	require.NoError(t, n.Error(ctx, map[string]int{"n": 1}))
	assert.Equal(t, []sent{{"ops", "hello"}, {"alerts", `{"n":1}`}}, s.msgs)
}

func TestSuppressedChannelsOnlyLog(t *testing.T) {
	s := &memorySender{}
	n := New(s, Channels{Normal: "", Error: "none"}, 0)
	require.NoError(t, n.Log(context.Background(), "a"))
	require.NoError(t, n.Error(context.Background(), "b"))
	assert.Empty(t, s.msgs)
	assert.True(t, Suppressed("none"))
	assert.False(t, Suppressed("#ops"))
}

func TestSendFailureIsReturned(t *testing.T) {
	n := New(&memorySender{err: errors.New("down")}, Channels{Normal: "ops"}, 5)
	assert.Error(t, n.Log(context.Background(), "x"))
}

func TestRateLimitHonoursContext(t *testing.T) {
	n := New(&memorySender{}, Channels{Normal: "ops"}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, n.Log(ctx, "first"))
	cancel()
	assert.Error(t, n.Log(ctx, "second"))
}

func TestSlackSender(t *testing.T) {
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got["channel"] == "bad" {
			w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := NewSlackSender("xoxb-token", "prod", ":robot_face:")
	s.URL = srv.URL

	require.NoError(t, s.Send(context.Background(), "ops", "hi"))
	assert.Equal(t, "Bearer xoxb-token", auth)
	assert.Equal(t, map[string]any{"channel": "ops", "text": "hi", "username": "prod", "icon_emoji": ":robot_face:"}, got)

	err := s.Send(context.Background(), "bad", "hi")
	assert.ErrorContains(t, err, "channel_not_found")
}

func TestSlackSenderHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	s := NewSlackSender("t", "", "")
	s.URL = srv.URL
	assert.ErrorContains(t, s.Send(context.Background(), "ops", "hi"), "429")
}
