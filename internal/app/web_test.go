package app

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// doneToken is an mqtt.Token that has already completed with err.
type doneToken struct{ err error }

func (t doneToken) Wait() bool { return true }

func (t doneToken) WaitTimeout(time.Duration) bool { return true }

func (t doneToken) Error() error { return t.err }

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// recordingClient captures Publish calls; everything else is a no-op.
type recordingClient struct {
	mu         sync.Mutex
	topics     []string
	payloads   []string
	publishErr error
}

func (c *recordingClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	c.payloads = append(c.payloads, string(payload.([]byte)))
	return doneToken{err: c.publishErr}
}

func (c *recordingClient) IsConnected() bool { return true }

func (c *recordingClient) IsConnectionOpen() bool { return true }

func (c *recordingClient) Connect() mqtt.Token { return doneToken{} }

func (c *recordingClient) Disconnect(quiesce uint) {}

func (c *recordingClient) AddRoute(topic string, cb mqtt.MessageHandler) {}

func (c *recordingClient) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	return doneToken{}
}

func (c *recordingClient) SubscribeMultiple(filters map[string]byte, cb mqtt.MessageHandler) mqtt.Token {
	return doneToken{}
}

func (c *recordingClient) Unsubscribe(topics ...string) mqtt.Token {
	return doneToken{}
}

func (c *recordingClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

func TestControlHandlerPublishesCommand(t *testing.T) {
	client := &recordingClient{}
	handler := controlHandler(client, "attitude/control", "reset")

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/api/reset", nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if len(client.topics) != 1 || client.topics[0] != "attitude/control" {
		t.Fatalf("published topics = %v, want [attitude/control]", client.topics)
	}
	if want := `{"command":"reset"}`; client.payloads[0] != want {
		t.Fatalf("payload = %s, want %s", client.payloads[0], want)
	}
}

func TestControlHandlerRejectsGet(t *testing.T) {
	client := &recordingClient{}
	handler := controlHandler(client, "attitude/control", "recalibrate")

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/recalibrate", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
	if len(client.topics) != 0 {
		t.Fatalf("unexpected publishes: %v", client.topics)
	}
}

func TestControlHandlerPublishFailure(t *testing.T) {
	client := &recordingClient{publishErr: errors.New("broker gone")}
	handler := controlHandler(client, "attitude/control", "clear_reset")

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/api/reset/clear", nil))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
}
