package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/attitude_stream/internal/config"
	"github.com/relabs-tech/attitude_stream/internal/ingest"
	"github.com/relabs-tech/attitude_stream/internal/orientation"
)

// RunConsole prints the live attitude and pipeline counters to stdout.
// Attitude messages arrive much faster than a terminal is useful for, so
// output is throttled to the configured log interval.
func RunConsole() error {
	cfg := config.Get()

	client, err := connectMQTT(cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}

	var (
		mu        sync.Mutex
		lastPrint time.Time
	)
	throttle := time.Duration(cfg.ConsoleLogInterval) * time.Millisecond

	attToken := client.Subscribe(cfg.TopicAttitude, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var a orientation.Attitude
		if err := json.Unmarshal(msg.Payload(), &a); err != nil {
			log.Printf("console: attitude unmarshal error: %v", err)
			return
		}

		mu.Lock()
		if time.Since(lastPrint) < throttle {
			mu.Unlock()
			return
		}
		lastPrint = time.Now()
		mu.Unlock()

		fmt.Printf(
			"[ATT ]  ROLL=%7.2f  PITCH=%7.2f  YAW=%7.2f  |  q=(%.4f, %.4f, %.4f, %.4f)\n",
			a.Roll, a.Pitch, a.Yaw, a.W, a.X, a.Y, a.Z,
		)
	})
	attToken.Wait()
	if attToken.Error() != nil {
		return attToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicAttitude)

	statsToken := client.Subscribe(cfg.TopicStats, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var st ingest.Stats
		if err := json.Unmarshal(msg.Payload(), &st); err != nil {
			log.Printf("console: stats unmarshal error: %v", err)
			return
		}

		fmt.Printf(
			"[STAT]  records=%d published=%d malformed=%d checksum=%d invalid=%d\n",
			st.Records, st.Published, st.Malformed, st.ChecksumErrors, st.InvalidQuaternions,
		)
	})
	statsToken.Wait()
	if statsToken.Error() != nil {
		return statsToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicStats)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
