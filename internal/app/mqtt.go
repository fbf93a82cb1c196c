package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/relabs-tech/attitude_stream/internal/config"
	"github.com/relabs-tech/attitude_stream/internal/ingest"
	"github.com/relabs-tech/attitude_stream/internal/orientation"
	"github.com/relabs-tech/attitude_stream/internal/stream"
)

// ControlCommand is the payload on the control topic. Any process on the
// broker can steer the ingestion pipeline with it.
type ControlCommand struct {
	Command string `json:"command"` // reset, clear_reset, recalibrate
}

func connectMQTT(clientID string) (mqtt.Client, error) {
	cfg := config.Get()
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(clientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect to %s: %w", cfg.MQTTBroker, token.Error())
	}
	log.Printf("connected to MQTT broker at %s", cfg.MQTTBroker)
	return client, nil
}

// subscribeControl routes control-topic commands into the ingestion service.
func subscribeControl(client mqtt.Client, svc *ingest.Service) error {
	cfg := config.Get()
	token := client.Subscribe(cfg.TopicControl, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var cmd ControlCommand
		if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
			log.Printf("control: payload unmarshal error: %v", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var err error
		switch cmd.Command {
		case "reset":
			err = svc.Reset(ctx)
		case "clear_reset":
			err = svc.ClearReset(ctx)
		case "recalibrate":
			err = svc.Recalibrate(ctx)
		default:
			log.Printf("control: unknown command %q", cmd.Command)
			return
		}
		if err != nil {
			log.Printf("control: %s failed: %v", cmd.Command, err)
			return
		}
		log.Printf("control: applied %s", cmd.Command)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("subscribed to control topic %s", cfg.TopicControl)
	return nil
}

// publishAttitude pushes the freshest buffered orientation to the attitude
// topic at the configured interval, retained so late subscribers get the
// last known pose immediately. Stats go out alongside at a slower cadence.
func publishAttitude(ctx context.Context, client mqtt.Client, buf *stream.Buffer, svc *ingest.Service) {
	cfg := config.Get()
	ticker := time.NewTicker(time.Duration(cfg.PublishInterval) * time.Millisecond)
	defer ticker.Stop()

	statsEvery := 20
	tick := 0
	var lastSeq uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		sample, seq, ok := buf.Latest()
		if ok && seq != lastSeq {
			lastSeq = seq
			payload, err := json.Marshal(orientation.MakeAttitude(sample))
			if err != nil {
				log.Printf("attitude marshal error: %v", err)
			} else if token := client.Publish(cfg.TopicAttitude, 0, true, payload); token.Wait() && token.Error() != nil {
				log.Printf("MQTT publish error (%s): %v", cfg.TopicAttitude, token.Error())
			}
		}

		tick++
		if tick%statsEvery == 0 {
			payload, err := json.Marshal(svc.Stats())
			if err != nil {
				log.Printf("stats marshal error: %v", err)
			} else if token := client.Publish(cfg.TopicStats, 0, true, payload); token.Wait() && token.Error() != nil {
				log.Printf("MQTT publish error (%s): %v", cfg.TopicStats, token.Error())
			}
		}
	}
}
