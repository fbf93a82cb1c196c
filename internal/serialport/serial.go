// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package serialport

import (
	"fmt"
	"io"
	"log"

	"github.com/jacobsa/go-serial/serial"
)

// Options describes the sensor serial link.
type Options struct {
	// Port is the device path: /dev/serial0, /dev/ttyAMA0, /dev/ttyUSB0, etc.
	Port string
	Baud uint
}

// Open opens the sensor serial port for reading. MinimumReadSize of 1 makes
// Read return as soon as any bytes arrive, so partial frames reach the
// decoder without waiting for a full buffer.
func Open(opts Options) (io.ReadCloser, error) {
	if opts.Port == "" {
		return nil, fmt.Errorf("serialport: no port configured")
	}
	if opts.Baud == 0 {
		opts.Baud = 115200
	}
	port, err := serial.Open(serial.OpenOptions{
		PortName:              opts.Port,
		BaudRate:              opts.Baud,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", opts.Port, err)
	}
	log.Printf("serialport: opened %s at %d baud", opts.Port, opts.Baud)
	return port, nil
}
