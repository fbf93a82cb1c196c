package app

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/attitude_stream/internal/config"
	"github.com/relabs-tech/attitude_stream/internal/fusion"
	"github.com/relabs-tech/attitude_stream/internal/ingest"
	"github.com/relabs-tech/attitude_stream/internal/sensors"
	"github.com/relabs-tech/attitude_stream/internal/stream"
)

// RunIMUProducer captures six-axis samples directly from the SPI-attached
// MPU9250, bypassing the serial wire formats, and publishes fused attitude
// over MQTT. Same pipeline as the serial role, different front end.
func RunIMUProducer() error {
	log.Println("starting attitude producer (direct SPI capture)")

	cfg := config.Get()

	src, err := sensors.NewMPU9250Source()
	if err != nil {
		return err
	}

	buf := stream.NewBuffer(cfg.BufferCapacity)
	svc, err := ingest.New(ingest.Config{
		Filter: fusion.Config{
			Alpha:              cfg.FilterAlpha,
			CalibrationSamples: cfg.CalibrationSamples,
			AccelTolerance:     cfg.AccelTolerance,
			MaxDt:              cfg.FilterMaxDt,
		},
	}, buf)
	if err != nil {
		return err
	}

	client, err := connectMQTT(cfg.MQTTClientIDIMU)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	if err := subscribeControl(client, svc); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go publishAttitude(ctx, client, buf, svc)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("producer: shutting down")
		cancel()
	}()

	interval := time.Duration(cfg.IMUSampleInterval) * time.Millisecond
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	log.Printf("producer: sampling every %v", interval)
	return svc.RunSamples(ctx, src, interval)
}
