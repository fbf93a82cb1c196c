package app

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/attitude_stream/internal/config"
	"github.com/relabs-tech/attitude_stream/internal/fusion"
	"github.com/relabs-tech/attitude_stream/internal/ingest"
	"github.com/relabs-tech/attitude_stream/internal/serialport"
	"github.com/relabs-tech/attitude_stream/internal/stream"
)

// RunIngest is the serial ingestion role: it decodes the sensor byte stream,
// fuses and validates orientations, and republishes them over MQTT. A lost
// sensor kills this process; consumers stay up on the retained last value.
func RunIngest() error {
	log.Println("starting attitude ingestion")

	cfg := config.Get()

	var src io.ReadCloser
	if cfg.SensorMock {
		log.Println("using synthetic sensor stream")
		src = serialport.NewMockStream(time.Duration(cfg.IMUSampleInterval) * time.Millisecond)
	} else {
		var err error
		src, err = serialport.Open(serialport.Options{
			Port: cfg.SerialPort,
			Baud: uint(cfg.SerialBaud),
		})
		if err != nil {
			return err
		}
	}
	defer src.Close()

	buf := stream.NewBuffer(cfg.BufferCapacity)
	svc, err := ingest.New(ingest.Config{
		Format:   cfg.Format(),
		Checksum: cfg.Checksum(),
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

	client, err := connectMQTT(cfg.MQTTClientIDIngest)
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

	// Shut down cleanly on Ctrl+C / SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("ingest: shutting down")
		cancel()
	}()

	log.Printf("ingest: reading %s records", cfg.SensorFormat)
	if err := svc.Run(ctx, src); err != nil {
		st := svc.Stats()
		log.Printf("ingest: pipeline stopped after %d records (%d published): %v",
			st.Records, st.Published, err)
		return err
	}
	return nil
}
