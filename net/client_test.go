package net

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	messages   chan []byte
	terminated chan error
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{
		messages:   make(chan []byte, 16),
		terminated: make(chan error, 1),
	}
}

func (h *fakeHandler) ReceiveMessage(msg []byte) {
	h.messages <- msg
}

func (h *fakeHandler) Terminate(err error) {
	h.terminated <- err
}

func TestClient_SendMessage(t *testing.T) {
	local, remote := Pipe()
	handler := newFakeHandler()
	client := NewClient(local, handler, 4, 0)
	defer client.Close()

	require.NoError(t, client.SendMessage([]byte("hello")))
	msg, err := remote.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "hello", string(msg))
}

func TestClient_Read(t *testing.T) {
	local, remote := Pipe()
	handler := newFakeHandler()
	client := NewClient(local, handler, 4, 0)
	defer client.Close()

	require.NoError(t, remote.WriteMessage([]byte("first")))
	require.NoError(t, remote.WriteMessage([]byte("second")))

	for _, expected := range []string{"first", "second"} {
		select {
		case msg := <-handler.messages:
			require.Equal(t, expected, string(msg))
		case <-time.After(time.Second):
			t.Fatal("read timeout")
		}
	}
}

func TestClient_RemoteClose(t *testing.T) {
	local, remote := Pipe()
	handler := newFakeHandler()
	client := NewClient(local, handler, 4, 0)

	remote.Close()
	select {
	case err := <-handler.terminated:
		require.True(t, errors.Is(err, ErrTransportClosed))
	case <-time.After(time.Second):
		t.Fatal("client was not terminated")
	}
	require.False(t, client.Connected())
	require.ErrorIs(t, client.SendMessage([]byte("late")), ErrTransportClosed)
}

// blockingTransport never completes a write, so the send buffer fills up.
type blockingTransport struct {
	Transport
	block chan struct{}
}

func (b *blockingTransport) WriteMessage(msg []byte) error {
	<-b.block
	return ErrTransportClosed
}

func TestClient_SendBufferFull(t *testing.T) {
	local, _ := Pipe()
	tr := &blockingTransport{Transport: local, block: make(chan struct{})}
	defer close(tr.block)
	handler := newFakeHandler()
	client := NewClient(tr, handler, 2, 0)

	var err error
	for i := 0; i < 10 && err == nil; i++ {
		err = client.SendMessage([]byte("x"))
	}
	require.ErrorIs(t, err, ErrSendBufferFull)
	require.ErrorIs(t, <-handler.terminated, ErrSendBufferFull)
	require.False(t, client.Connected())
}
