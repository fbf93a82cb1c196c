package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"github.com/relabs-tech/attitude_stream/internal/config"
	"github.com/relabs-tech/attitude_stream/internal/ingest"
	"github.com/relabs-tech/attitude_stream/internal/orientation"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from the device itself on a LAN; any origin
	// is accepted.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsHub fans each attitude update out to the connected websocket clients.
type wsHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newWSHub() *wsHub {
	return &wsHub{clients: make(map[*websocket.Conn]struct{})}
}

func (h *wsHub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *wsHub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.Close()
}

// broadcast writes payload to every client, dropping the ones that fail.
func (h *wsHub) broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			delete(h.clients, c)
			c.Close()
		}
	}
}

// controlHandler forwards one pipeline control command to the ingestion
// role over MQTT. POST only.
func controlHandler(client mqtt.Client, topic, command string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		payload, err := json.Marshal(ControlCommand{Command: command})
		if err != nil {
			log.Printf("web: control marshal error: %v", err)
			http.Error(w, "control encode failed", http.StatusInternalServerError)
			return
		}
		if token := client.Publish(topic, 0, false, payload); token.Wait() && token.Error() != nil {
			log.Printf("web: control publish error: %v", token.Error())
			http.Error(w, "control publish failed", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func RunWeb() error {
	cfg := config.Get()

	var (
		mu        sync.RWMutex
		last      orientation.Attitude
		haveData  bool
		lastStats ingest.Stats
		haveStats bool
	)
	hub := newWSHub()

	// 1) Connect to the MQTT broker
	client, err := connectMQTT(cfg.MQTTClientIDWeb)
	if err != nil {
		return err
	}

	// 2) Subscribe to the attitude topic and fan updates out to websockets
	token := client.Subscribe(cfg.TopicAttitude, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var a orientation.Attitude
		if err := json.Unmarshal(msg.Payload(), &a); err != nil {
			log.Printf("web: attitude unmarshal error: %v", err)
			return
		}
		mu.Lock()
		last = a
		haveData = true
		mu.Unlock()
		hub.broadcast(msg.Payload())
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("web: subscribed to %s", cfg.TopicAttitude)

	statsToken := client.Subscribe(cfg.TopicStats, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var st ingest.Stats
		if err := json.Unmarshal(msg.Payload(), &st); err != nil {
			log.Printf("web: stats unmarshal error: %v", err)
			return
		}
		mu.Lock()
		lastStats = st
		haveStats = true
		mu.Unlock()
	})
	statsToken.Wait()
	if statsToken.Error() != nil {
		return statsToken.Error()
	}

	// 3) JSON API: latest attitude and pipeline stats
	http.HandleFunc("/api/orientation", func(w http.ResponseWriter, r *http.Request) {
		mu.RLock()
		defer mu.RUnlock()

		if !haveData {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(last); err != nil {
			log.Printf("web: json encode error: %v", err)
		}
	})

	http.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		mu.RLock()
		defer mu.RUnlock()

		if !haveStats {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(lastStats); err != nil {
			log.Printf("web: json encode error: %v", err)
		}
	})

	// 4) Pipeline control: forwarded to the ingestion role over MQTT
	http.HandleFunc("/api/reset", controlHandler(client, cfg.TopicControl, "reset"))
	http.HandleFunc("/api/reset/clear", controlHandler(client, cfg.TopicControl, "clear_reset"))
	http.HandleFunc("/api/recalibrate", controlHandler(client, cfg.TopicControl, "recalibrate"))

	// 5) Live stream over websocket
	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("web: websocket upgrade error: %v", err)
			return
		}
		hub.add(conn)
		log.Printf("web: websocket client connected from %s", r.RemoteAddr)

		// Send the last known attitude right away so the client does not
		// wait for the next sensor tick.
		mu.RLock()
		if haveData {
			if payload, err := json.Marshal(last); err == nil {
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				conn.WriteMessage(websocket.TextMessage, payload)
			}
		}
		mu.RUnlock()

		// Drain (and discard) client messages to notice disconnects.
		go func() {
			defer hub.remove(conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})

	// 6) Static files from ./web as the root
	fs := http.FileServer(http.Dir("web"))
	http.Handle("/", fs)

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web server listening on %s", addr)
	return http.ListenAndServe(addr, nil)
}
