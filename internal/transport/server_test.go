package transport

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasnet-community/subwire/internal/apperrors"
	"github.com/nasnet-community/subwire/internal/producer"
)

// fakeSocket is an in-memory Socket used to drive the orchestrator
// without any real network transport.
type fakeSocket struct {
	mu       sync.Mutex
	sent     []string
	onMsg    func(string)
	closedCh chan struct{}
	code     int
	reason   string
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{closedCh: make(chan struct{})}
}

func (f *fakeSocket) Protocol() string { return "graphql-transport-ws" }

func (f *fakeSocket) Send(ctx context.Context, data string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeSocket) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.closedCh:
	default:
		f.code, f.reason = code, reason
		close(f.closedCh)
	}
	return nil
}

func (f *fakeSocket) OnMessage(cb func(string)) { f.onMsg = cb }

func (f *fakeSocket) deliver(data string) { f.onMsg(data) }

func (f *fakeSocket) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

// blockingProducer waits on a channel before returning from Start, so
// tests can control exactly when an operation finishes.
type blockingProducer struct {
	release  chan struct{}
	emits    []json.RawMessage
	stopOnce sync.Once
	stopped  chan struct{}
	errs     producer.ErrorPayload
	startErr error
}

func newBlockingProducer() *blockingProducer {
	return &blockingProducer{release: make(chan struct{}), stopped: make(chan struct{})}
}

func (p *blockingProducer) Start(ctx context.Context, emit producer.Emit) (producer.ErrorPayload, error) {
	for _, e := range p.emits {
		if err := emit(ctx, e); err != nil {
			return nil, err
		}
	}
	select {
	case <-p.release:
	case <-p.stopped:
	}
	return p.errs, p.startErr
}

func (p *blockingProducer) Stop() error {
	p.stopOnce.Do(func() { close(p.stopped) })
	return nil
}

func newServerFor(t *testing.T, factory producer.Factory, hooks Hooks) (*Server, *fakeSocket) {
	t.Helper()
	srv, sock, _ := newServerForWithClosed(t, factory, hooks)
	return srv, sock
}

func newServerForWithClosed(t *testing.T, factory producer.Factory, hooks Hooks) (*Server, *fakeSocket, func(code int, reason string)) {
	t.Helper()
	srv := NewServer(factory, hooks, WithInitTimeout(50*time.Millisecond), WithKeepAliveInterval(0))
	sock := newFakeSocket()
	closed := srv.Opened(sock, nil)
	return srv, sock, closed
}

func waitForMessages(t *testing.T, sock *fakeSocket, n int) []string {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		if msgs := sock.messages(); len(msgs) >= n {
			return msgs
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d messages, got %v", n, sock.messages())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestHandshakeAcknowledges(t *testing.T) {
	_, sock := newServerFor(t, producer.FactoryFunc(nil), Hooks{})
	sock.deliver(`{"type":"connection_init"}`)

	msgs := waitForMessages(t, sock, 1)
	assert.Contains(t, msgs[0], `"connection_ack"`)
}

func TestSecondInitClosesTooManyRequests(t *testing.T) {
	srv := NewServer(producer.FactoryFunc(nil), Hooks{}, WithInitTimeout(0), WithKeepAliveInterval(0))
	sock := newFakeSocket()
	srv.Opened(sock, nil)

	sock.deliver(`{"type":"connection_init"}`)
	waitForMessages(t, sock, 1)
	sock.deliver(`{"type":"connection_init"}`)

	select {
	case <-sock.closedCh:
	case <-time.After(time.Second):
		t.Fatal("expected close")
	}
	assert.Equal(t, apperrors.CodeTooManyInitialisationRequests, sock.code)
}

func TestInitTimeoutCloses(t *testing.T) {
	srv := NewServer(producer.FactoryFunc(nil), Hooks{}, WithInitTimeout(10*time.Millisecond), WithKeepAliveInterval(0))
	sock := newFakeSocket()
	srv.Opened(sock, nil)

	select {
	case <-sock.closedCh:
	case <-time.After(time.Second):
		t.Fatal("expected init timeout close")
	}
	assert.Equal(t, apperrors.CodeConnectionInitialisationTimeout, sock.code)
}

func TestSubscribeBeforeAckIsUnauthorized(t *testing.T) {
	_, sock := newServerFor(t, producer.FactoryFunc(nil), Hooks{})
	sock.deliver(`{"type":"subscribe","id":"1","payload":{}}`)

	select {
	case <-sock.closedCh:
	case <-time.After(time.Second):
		t.Fatal("expected close")
	}
	assert.Equal(t, apperrors.CodeUnauthorized, sock.code)
}

func TestBadJSONClosesBadRequest(t *testing.T) {
	_, sock := newServerFor(t, producer.FactoryFunc(nil), Hooks{})
	sock.deliver(`not json`)

	select {
	case <-sock.closedCh:
	case <-time.After(time.Second):
		t.Fatal("expected close")
	}
	assert.Equal(t, apperrors.CodeBadRequest, sock.code)
}

func TestSubscribeRunsToCompletion(t *testing.T) {
	p := newBlockingProducer()
	p.emits = []json.RawMessage{json.RawMessage(`{"v":1}`)}
	factory := producer.FactoryFunc(func(ctx context.Context, id string, payload json.RawMessage) (producer.Producer, error) {
		return p, nil
	})

	var completedID string
	var mu sync.Mutex
	_, sock := newServerFor(t, factory, Hooks{
		OnComplete: func(ctx context.Context, id string) { mu.Lock(); completedID = id; mu.Unlock() },
	})
	sock.deliver(`{"type":"connection_init"}`)
	waitForMessages(t, sock, 1)
	sock.deliver(`{"type":"subscribe","id":"op1","payload":{}}`)

	waitForMessages(t, sock, 2) // next
	close(p.release)
	msgs := waitForMessages(t, sock, 3) // complete
	assert.Contains(t, msgs[2], `"complete"`)
	assert.Contains(t, msgs[2], `"op1"`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return completedID == "op1"
	}, time.Second, time.Millisecond)
}

func TestDuplicateSubscribeIDRejected(t *testing.T) {
	p := newBlockingProducer()
	factory := producer.FactoryFunc(func(ctx context.Context, id string, payload json.RawMessage) (producer.Producer, error) {
		return p, nil
	})
	_, sock := newServerFor(t, factory, Hooks{})
	sock.deliver(`{"type":"connection_init"}`)
	waitForMessages(t, sock, 1)
	sock.deliver(`{"type":"subscribe","id":"dup","payload":{}}`)
	sock.deliver(`{"type":"subscribe","id":"dup","payload":{}}`)

	select {
	case <-sock.closedCh:
	case <-time.After(time.Second):
		t.Fatal("expected close")
	}
	assert.Equal(t, apperrors.CodeSubscriberAlreadyExists, sock.code)
	p.Stop()
}

func TestPingWithoutHookAutoReplies(t *testing.T) {
	_, sock := newServerFor(t, producer.FactoryFunc(nil), Hooks{})
	sock.deliver(`{"type":"connection_init"}`)
	waitForMessages(t, sock, 1)

	sock.deliver(`{"type":"ping","payload":{"v":1}}`)

	msgs := waitForMessages(t, sock, 2)
	assert.Contains(t, msgs[1], `"pong"`)
	assert.Contains(t, msgs[1], `"v":1`)
}

func TestPingWithHookSuppressesAutoReply(t *testing.T) {
	var gotPayload json.RawMessage
	var mu sync.Mutex
	_, sock := newServerFor(t, producer.FactoryFunc(nil), Hooks{
		OnPing: func(ctx context.Context, payload json.RawMessage) {
			mu.Lock()
			gotPayload = payload
			mu.Unlock()
		},
	})
	sock.deliver(`{"type":"connection_init"}`)
	waitForMessages(t, sock, 1)

	sock.deliver(`{"type":"ping","payload":{"v":1}}`)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Contains(t, string(gotPayload), `"v":1`)
	mu.Unlock()
	assert.Len(t, sock.messages(), 1) // only connection_ack; no auto pong
}

func TestOnDisconnectFiresOnlyAfterAcknowledged(t *testing.T) {
	var disconnects int
	var mu sync.Mutex
	_, _, closed := newServerForWithClosed(t, producer.FactoryFunc(nil), Hooks{
		OnDisconnect: func(ctx context.Context, code int, reason string) {
			mu.Lock()
			disconnects++
			mu.Unlock()
		},
	})
	// Never sends connection_init, so the connection is never acknowledged.
	closed(apperrors.CodeGoingAway, "bye")

	mu.Lock()
	assert.Equal(t, 0, disconnects)
	mu.Unlock()
}

func TestOnDisconnectFiresAfterAcknowledgedConnectionCloses(t *testing.T) {
	var disconnects int
	var mu sync.Mutex
	_, sock, closed := newServerForWithClosed(t, producer.FactoryFunc(nil), Hooks{
		OnDisconnect: func(ctx context.Context, code int, reason string) {
			mu.Lock()
			disconnects++
			mu.Unlock()
		},
	})
	sock.deliver(`{"type":"connection_init"}`)
	waitForMessages(t, sock, 1)

	closed(apperrors.CodeGoingAway, "bye")

	mu.Lock()
	assert.Equal(t, 1, disconnects)
	mu.Unlock()
}

func TestShutdownClosesOpenConnectionsGoingAway(t *testing.T) {
	srv, sock := newServerFor(t, producer.FactoryFunc(nil), Hooks{})
	sock.deliver(`{"type":"connection_init"}`)
	waitForMessages(t, sock, 1)

	srv.Shutdown(context.Background())

	select {
	case <-sock.closedCh:
	case <-time.After(time.Second):
		t.Fatal("expected shutdown to close the socket")
	}
	assert.Equal(t, apperrors.CodeGoingAway, sock.code)
}

func TestClientCompleteSuppressesEmission(t *testing.T) {
	p := newBlockingProducer()
	factory := producer.FactoryFunc(func(ctx context.Context, id string, payload json.RawMessage) (producer.Producer, error) {
		return p, nil
	})
	_, sock := newServerFor(t, factory, Hooks{})
	sock.deliver(`{"type":"connection_init"}`)
	waitForMessages(t, sock, 1)
	sock.deliver(`{"type":"subscribe","id":"op1","payload":{}}`)

	sock.deliver(`{"type":"complete","id":"op1"}`)

	time.Sleep(50 * time.Millisecond)
	msgs := sock.messages()
	assert.Len(t, msgs, 1) // only connection_ack; no next/error/complete for op1
}
