// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"log"
	"time"

	"github.com/relabs-tech/attitude_stream/internal/config"
	"github.com/relabs-tech/attitude_stream/internal/imu"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"
)

// accel/gyro raw counts are signed 16 bit over the configured full scale.
const rawFullScale = 32768.0

const gravity = 9.80665 // m/s²

// accelFullScaleG returns the accelerometer full scale in g for a
// range index 0..3 (±2g, ±4g, ±8g, ±16g).
func accelFullScaleG(rangeIdx byte) float64 {
	return float64(int(2) << rangeIdx)
}

// gyroFullScaleDPS returns the gyroscope full scale in deg/s for a
// range index 0..3 (±250, ±500, ±1000, ±2000).
func gyroFullScaleDPS(rangeIdx byte) float64 {
	return float64(int(250) << rangeIdx)
}

type mpu9250Source struct {
	imu        *mpu9250.MPU9250
	accelScale float64 // m/s² per count
	gyroScale  float64 // deg/s per count
}

// NewMPU9250Source initializes the MPU9250 over SPI and returns it as a
// six-axis sample source. Sensor ranges come from the global config; the
// DLPF and sample rate divider stay at the driver's Init defaults
// (1 kHz internal rate, 92 Hz gyro bandwidth).
func NewMPU9250Source() (imu.SampleSource, error) {
	cfg := config.Get()

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("IMU: periph host init: %w", err)
	}

	cs := gpioreg.ByName(cfg.IMUCSPin)
	if cs == nil {
		return nil, fmt.Errorf("IMU: CS pin %q not found", cfg.IMUCSPin)
	}

	tr, err := mpu9250.NewSpiTransport(cfg.IMUSPIDevice, cs)
	if err != nil {
		return nil, fmt.Errorf("IMU: SPI transport (%s): %w", cfg.IMUSPIDevice, err)
	}

	dev, err := mpu9250.New(tr)
	if err != nil {
		return nil, fmt.Errorf("IMU: device creation: %w", err)
	}

	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("IMU: initialization: %w", err)
	}

	// Apply configured sensor ranges. SetAccelRange wants the FS_SEL
	// bits already in register position; SetGyroRange shifts itself.
	if err := dev.SetAccelRange(cfg.IMUAccelRange << 3); err != nil {
		return nil, fmt.Errorf("IMU: set accel range: %w", err)
	}
	log.Printf("IMU: accelerometer range set to %d (±%.0fg)", cfg.IMUAccelRange, accelFullScaleG(cfg.IMUAccelRange))

	if err := dev.SetGyroRange(cfg.IMUGyroRange); err != nil {
		return nil, fmt.Errorf("IMU: set gyro range: %w", err)
	}
	log.Printf("IMU: gyroscope range set to %d (±%.0f°/s)", cfg.IMUGyroRange, gyroFullScaleDPS(cfg.IMUGyroRange))

	// Hardware-level offset calibration; the fusion filter estimates the
	// residual gyro bias on top of this.
	if err := dev.Calibrate(); err != nil {
		log.Printf("Warning: IMU calibration failed: %v", err)
	} else {
		log.Printf("IMU calibration complete")
	}

	return &mpu9250Source{
		imu:        dev,
		accelScale: accelFullScaleG(cfg.IMUAccelRange) * gravity / rawFullScale,
		gyroScale:  gyroFullScaleDPS(cfg.IMUGyroRange) / rawFullScale,
	}, nil
}

// Next reads one accelerometer+gyroscope sample and scales to m/s² and deg/s.
func (s *mpu9250Source) Next() (imu.SixAxisSample, error) {
	ax, err := s.imu.GetAccelerationX()
	if err != nil {
		return imu.SixAxisSample{}, fmt.Errorf("IMU accel X: %w", err)
	}
	ay, err := s.imu.GetAccelerationY()
	if err != nil {
		return imu.SixAxisSample{}, fmt.Errorf("IMU accel Y: %w", err)
	}
	az, err := s.imu.GetAccelerationZ()
	if err != nil {
		return imu.SixAxisSample{}, fmt.Errorf("IMU accel Z: %w", err)
	}

	gx, err := s.imu.GetRotationX()
	if err != nil {
		return imu.SixAxisSample{}, fmt.Errorf("IMU gyro X: %w", err)
	}
	gy, err := s.imu.GetRotationY()
	if err != nil {
		return imu.SixAxisSample{}, fmt.Errorf("IMU gyro Y: %w", err)
	}
	gz, err := s.imu.GetRotationZ()
	if err != nil {
		return imu.SixAxisSample{}, fmt.Errorf("IMU gyro Z: %w", err)
	}

	return imu.SixAxisSample{
		Ax: float64(ax) * s.accelScale,
		Ay: float64(ay) * s.accelScale,
		Az: float64(az) * s.accelScale,
		Gx: float64(gx) * s.gyroScale,
		Gy: float64(gy) * s.gyroScale,
		Gz: float64(gz) * s.gyroScale,
		At: time.Now(),
	}, nil
}
