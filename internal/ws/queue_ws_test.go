package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func receive(t *testing.T, ch chan []byte) WSMessage {
	t.Helper()
	select {
	case payload := <-ch:
		var msg WSMessage
		assert.NoError(t, json.Unmarshal(payload, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("сообщение не пришло вовремя")
		return WSMessage{}
	}
}

func TestHubDeliversToQueueAndGlobalSubscribers(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	queueClient := &Client{Hub: hub, Send: make(chan []byte, 8), QueueID: "42"}
	otherClient := &Client{Hub: hub, Send: make(chan []byte, 8), QueueID: "99"}
	globalClient := &Client{Hub: hub, Send: make(chan []byte, 8), Global: true}
	hub.register <- queueClient
	hub.register <- otherClient
	hub.register <- globalClient

	hub.PublishQueueUpdate(42, "user_joined")

	msg := receive(t, queueClient.Send)
	assert.Equal(t, "user_joined", msg.EventType)
	assert.Equal(t, "42", msg.QueueID)

	globalMsg := receive(t, globalClient.Send)
	assert.Equal(t, "42", globalMsg.QueueID)

	// Подписчик другой очереди ничего не получает.
	select {
	case <-otherClient.Send:
		t.Fatal("событие ушло подписчику чужой очереди")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubPublishDoesNotBlock(t *testing.T) {
	hub := NewHub()
	// Хаб намеренно не запущен: канал рассылки переполнится, но публикация
	// не должна зависнуть.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.PublishQueueUpdate(1, "user_joined")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("публикация заблокировалась на переполненном канале")
	}
}

func TestHubUnregisterClosesSend(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := &Client{Hub: hub, Send: make(chan []byte, 1), QueueID: "7"}
	hub.register <- client
	hub.unregister <- client

	select {
	case _, ok := <-client.Send:
		assert.False(t, ok, "канал Send должен закрыться при отписке")
	case <-time.After(time.Second):
		t.Fatal("канал Send не закрылся")
	}
}
