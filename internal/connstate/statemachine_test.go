package connstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitialStateIsAwaitingInit(t *testing.T) {
	m := New()
	assert.Equal(t, AwaitingInit, m.State())
	assert.False(t, m.Acknowledged())
	assert.False(t, m.IsClosed())
}

func TestBeginInitThenAcknowledge(t *testing.T) {
	m := New()
	assert.True(t, m.BeginInit())
	assert.Equal(t, Acknowledging, m.State())

	m.Acknowledge()
	assert.True(t, m.Acknowledged())
}

func TestSecondBeginInitRejectedWhilePending(t *testing.T) {
	m := New()
	require := assert.New(t)
	require.True(m.BeginInit())
	require.False(m.BeginInit())
}

func TestSecondBeginInitRejectedAfterAcknowledged(t *testing.T) {
	m := New()
	m.BeginInit()
	m.Acknowledge()

	assert.False(t, m.BeginInit())
}

func TestCloseIsTerminalAndIdempotent(t *testing.T) {
	m := New()
	m.BeginInit()
	m.Close()

	assert.True(t, m.IsClosed())
	assert.False(t, m.BeginInit())
	m.Close()
	assert.True(t, m.IsClosed())
}

func TestAcknowledgeNoopOutsideAcknowledging(t *testing.T) {
	m := New()
	m.Acknowledge() // no-op: still AwaitingInit
	assert.False(t, m.Acknowledged())
}

func TestExpireInitClosesOnlyWhileAwaiting(t *testing.T) {
	m := New()
	assert.True(t, m.ExpireInit())
	assert.True(t, m.IsClosed())

	m2 := New()
	m2.BeginInit()
	m2.Acknowledge()
	assert.False(t, m2.ExpireInit())
	assert.True(t, m2.Acknowledged())
}
