package wsadapter

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/nasnet-community/subwire/internal/producer"
	"github.com/nasnet-community/subwire/internal/subprotocol"
	"github.com/nasnet-community/subwire/internal/transport"
)

func TestHandlerNegotiatesAndAcknowledges(t *testing.T) {
	srv := transport.NewServer(producer.FactoryFunc(nil), transport.Hooks{},
		transport.WithKeepAliveInterval(0))
	handler := NewHandler(srv)
	ts := httptest.NewServer(handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	dialer := websocket.Dialer{Subprotocols: []string{subprotocol.Token}}
	conn, _, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"connection_init"}`)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), "connection_ack")
}

func TestHandlerRejectsMismatchedSubprotocol(t *testing.T) {
	srv := transport.NewServer(producer.FactoryFunc(nil), transport.Hooks{},
		transport.WithKeepAliveInterval(0))
	handler := NewHandler(srv)
	ts := httptest.NewServer(handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	dialer := websocket.Dialer{Subprotocols: []string{"graphql-ws"}}
	conn, _, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok)
	require.Equal(t, 1001, closeErr.Code)
}

func TestHandlerRejectsBinaryFrames(t *testing.T) {
	srv := transport.NewServer(producer.FactoryFunc(nil), transport.Hooks{},
		transport.WithKeepAliveInterval(0))
	handler := NewHandler(srv)
	ts := httptest.NewServer(handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	dialer := websocket.Dialer{Subprotocols: []string{subprotocol.Token}}
	conn, _, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte(`{"type":"connection_init"}`)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok)
	require.Equal(t, 4400, closeErr.Code)
}
