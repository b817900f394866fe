// Package ingest validates and stores sensor readings and schedules their
// evaluation. HTTP uploads and MQTT messages both go through Service.
package ingest

import (
	"context"
	"time"

	"github.com/envsense/envsense/internal/datastore/v2/entities"
	"github.com/envsense/envsense/internal/datastore/v2/repository"
	"github.com/envsense/envsense/internal/errors"
	"github.com/envsense/envsense/internal/logger"
	"github.com/envsense/envsense/internal/observability/metrics"
	"github.com/envsense/envsense/internal/queue"
)

// Ingestion sources, used as a metrics label.
const (
	SourceHTTP = "http"
	SourceMQTT = "mqtt"
)

const component = "ingest"

// Payload is one uploaded reading. Device is the device id; MQTT messages
// leave it unset and address the device by serial in the topic.
type Payload struct {
	Device         *uint      `json:"device"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
	Temperature    *float64   `json:"temperature,omitempty"`
	Humidity       *float64   `json:"humidity,omitempty"`
	Pressure       *float64   `json:"pressure,omitempty"`
	LightIntensity *float64   `json:"light_intensity,omitempty"`
	UVIndex        *float64   `json:"uv_index,omitempty"`
	PM25           *float64   `json:"pm25,omitempty"`
	PM10           *float64   `json:"pm10,omitempty"`
	CO2            *float64   `json:"co2,omitempty"`
	VOC            *float64   `json:"voc,omitempty"`
	O3             *float64   `json:"o3,omitempty"`
	NoiseLevel     *float64   `json:"noise_level,omitempty"`
	WindSpeed      *float64   `json:"wind_speed,omitempty"`
	WindDirection  *float64   `json:"wind_direction,omitempty"`
	Rainfall       *float64   `json:"rainfall,omitempty"`
	BatteryLevel   *int       `json:"battery_level,omitempty"`
	SignalStrength *int       `json:"signal_strength,omitempty"`
}

func (p *Payload) reading(deviceID uint, at time.Time) *entities.SensorReading {
	if p.Timestamp != nil && !p.Timestamp.IsZero() {
		at = *p.Timestamp
	}
	return &entities.SensorReading{
		DeviceID:       deviceID,
		Timestamp:      at.UTC(),
		Temperature:    p.Temperature,
		Humidity:       p.Humidity,
		Pressure:       p.Pressure,
		LightIntensity: p.LightIntensity,
		UVIndex:        p.UVIndex,
		PM25:           p.PM25,
		PM10:           p.PM10,
		CO2:            p.CO2,
		VOC:            p.VOC,
		O3:             p.O3,
		NoiseLevel:     p.NoiseLevel,
		WindSpeed:      p.WindSpeed,
		WindDirection:  p.WindDirection,
		Rainfall:       p.Rainfall,
		BatteryLevel:   p.BatteryLevel,
		SignalStrength: p.SignalStrength,
		IsValid:        true,
	}
}

// ReadingWriter stores readings.
type ReadingWriter interface {
	CreateReading(ctx context.Context, reading *entities.SensorReading) error
}

// Enqueuer schedules background tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *queue.Task) error
}

// Service stores readings and enqueues their evaluation.
type Service struct {
	devices  repository.DeviceRepository
	readings ReadingWriter
	tasks    Enqueuer
	log      logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewService creates a Service. m may be nil.
func NewService(devices repository.DeviceRepository, readings ReadingWriter, tasks Enqueuer, log logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		devices:  devices,
		readings: readings,
		tasks:    tasks,
		log:      log.Module(component),
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ingest stores a reading for the device named by p.Device on behalf of
// ownerID and returns the new reading id. A device owned by someone else is
// rejected like an unknown one. Evaluation happens asynchronously.
func (s *Service) Ingest(ctx context.Context, ownerID uint, p *Payload, source string) (uint, error) {
	if p == nil || p.Device == nil || *p.Device == 0 {
		s.metrics.IncReading(source, "rejected")
		return 0, errors.Validation(component, "device", "device is required")
	}
	device, err := s.devices.GetOwnedDevice(ctx, *p.Device, ownerID)
	if err != nil {
		if repository.IsNotFound(err) {
			s.metrics.IncReading(source, "rejected")
			return 0, errors.Validation(component, "device", "device %d does not exist", *p.Device)
		}
		return 0, err
	}
	return s.store(ctx, device, p, source)
}

// IngestBySerial is Ingest for callers that know the device serial. The
// serial itself identifies the device, so ownership is not checked.
func (s *Service) IngestBySerial(ctx context.Context, serial string, p *Payload, source string) (uint, error) {
	if serial == "" {
		s.metrics.IncReading(source, "rejected")
		return 0, errors.Validation(component, "device", "device is required")
	}
	device, err := s.devices.GetDeviceBySerial(ctx, serial)
	if err != nil {
		if repository.IsNotFound(err) {
			s.metrics.IncReading(source, "rejected")
			return 0, errors.Validation(component, "device", "device %q does not exist", serial)
		}
		return 0, err
	}
	if p == nil {
		p = &Payload{}
	}
	return s.store(ctx, device, p, source)
}

func (s *Service) store(ctx context.Context, device *entities.Device, p *Payload, source string) (uint, error) {
	if device.Status != entities.DeviceStatusOnline {
		s.metrics.IncReading(source, "rejected")
		return 0, errors.Validation(component, "device", "device %s is %s, readings are accepted only from online devices",
			device.Serial, device.Status)
	}

	now := s.now()
	reading := p.reading(device.ID, now)
	if err := s.readings.CreateReading(ctx, reading); err != nil {
		return 0, err
	}

	// The reading is stored; a queue failure must not fail the upload.
	if err := s.tasks.Enqueue(ctx, queue.EvaluateReading(reading.ID)); err != nil {
		s.metrics.IncReading(source, "unevaluated")
		s.log.Warn("failed to enqueue reading evaluation",
			logger.Uint64("reading_id", uint64(reading.ID)),
			logger.Error(err))
	} else {
		s.metrics.IncReading(source, "accepted")
	}

	if err := s.devices.MarkActive(ctx, device.ID, now); err != nil {
		s.log.Warn("failed to update device activity",
			logger.Uint64("device_id", uint64(device.ID)),
			logger.Error(err))
	}

	s.log.Debug("reading stored",
		logger.Uint64("reading_id", uint64(reading.ID)),
		logger.String("device", device.Serial),
		logger.String("source", source))
	return reading.ID, nil
}
