package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/envsense/envsense/internal/datastore/v2/entities"
	"github.com/envsense/envsense/internal/errors"
)

// StatsFields are the measurement fields summarised by ReadingStats.
var StatsFields = []string{
	entities.SensorTemperature,
	entities.SensorHumidity,
	entities.SensorPressure,
	entities.SensorLightIntensity,
	entities.SensorPM25,
	entities.SensorPM10,
	entities.SensorCO2,
	entities.SensorVOC,
	entities.SensorO3,
	entities.SensorNoiseLevel,
}

// ReadingFilter selects readings of one owner's devices. Zero values do
// not filter.
type ReadingFilter struct {
	OwnerID   uint
	DeviceID  uint
	Since     time.Time
	Until     time.Time
	ValidOnly bool
	Limit     int
	Offset    int
}

// LatestReading pairs a device with its most recent reading.
type LatestReading struct {
	Device  entities.Device         `json:"device"`
	Reading *entities.SensorReading `json:"reading"`
}

// FieldStats summarises one measurement field. Samples counts the readings
// that reported the field.
type FieldStats struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Avg     float64 `json:"avg"`
	Samples int64   `json:"samples"`
}

// HourlyAverage holds the per-field averages of one UTC hour.
type HourlyAverage struct {
	Hour     time.Time          `json:"hour"`
	Count    int64              `json:"count"`
	Averages map[string]float64 `json:"averages"`
}

// ReadingStats aggregates the valid readings of a device since a point in
// time. Fields without samples are absent from Fields.
type ReadingStats struct {
	Count  int64                 `json:"count"`
	Fields map[string]FieldStats `json:"fields"`
	Hourly []HourlyAverage       `json:"hourly"`
}

// ReadingRepository persists and queries sensor readings.
type ReadingRepository interface {
	CreateReading(ctx context.Context, reading *entities.SensorReading) error
	// GetReading loads a reading together with its device.
	GetReading(ctx context.Context, id uint) (*entities.SensorReading, error)
	// ListReadings returns matching readings newest first and the total
	// number of matches ignoring Limit and Offset.
	ListReadings(ctx context.Context, filter ReadingFilter) ([]entities.SensorReading, int64, error)
	// LatestReadings returns every device of ownerID that has reported,
	// with its newest reading.
	LatestReadings(ctx context.Context, ownerID uint) ([]LatestReading, error)
	ReadingStats(ctx context.Context, deviceID uint, since time.Time) (*ReadingStats, error)
}

type readingRepository struct {
	db *gorm.DB
}

// NewReadingRepository creates a new ReadingRepository.
func NewReadingRepository(db *gorm.DB) ReadingRepository {
	return &readingRepository{db: db}
}

func (r *readingRepository) CreateReading(ctx context.Context, reading *entities.SensorReading) error {
	if err := r.db.WithContext(ctx).Omit("Device").Create(reading).Error; err != nil {
		return fmt.Errorf("failed to save sensor reading: %w", err)
	}
	return nil
}

func (r *readingRepository) GetReading(ctx context.Context, id uint) (*entities.SensorReading, error) {
	var reading entities.SensorReading
	if err := r.db.WithContext(ctx).Preload("Device").First(&reading, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReadingNotFound
		}
		return nil, fmt.Errorf("failed to get sensor reading %d: %w", id, err)
	}
	return &reading, nil
}

func (r *readingRepository) filtered(ctx context.Context, filter ReadingFilter) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&entities.SensorReading{}).
		Where("device_id IN (?)", ownedDeviceIDs(r.db, filter.OwnerID))
	if filter.DeviceID != 0 {
		query = query.Where("device_id = ?", filter.DeviceID)
	}
	if !filter.Since.IsZero() {
		query = query.Where("timestamp >= ?", filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		query = query.Where("timestamp <= ?", filter.Until.UTC())
	}
	if filter.ValidOnly {
		query = query.Where("is_valid = ?", true)
	}
	return query
}

func (r *readingRepository) ListReadings(ctx context.Context, filter ReadingFilter) ([]entities.SensorReading, int64, error) {
	var total int64
	if err := r.filtered(ctx, filter).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count sensor readings: %w", err)
	}

	query := r.filtered(ctx, filter).Order("timestamp DESC, id DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	readings := []entities.SensorReading{}
	if err := query.Find(&readings).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list sensor readings: %w", err)
	}
	return readings, total, nil
}

func (r *readingRepository) LatestReadings(ctx context.Context, ownerID uint) ([]LatestReading, error) {
	var devices []entities.Device
	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("id").Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("failed to list devices of user %d: %w", ownerID, err)
	}

	out := []LatestReading{}
	for i := range devices {
		var reading entities.SensorReading
		err := r.db.WithContext(ctx).Where("device_id = ?", devices[i].ID).
			Order("timestamp DESC, id DESC").First(&reading).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get latest reading of device %d: %w", devices[i].ID, err)
		}
		out = append(out, LatestReading{Device: devices[i], Reading: &reading})
	}
	return out, nil
}

func (r *readingRepository) statsScope(ctx context.Context, deviceID uint, since time.Time) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&entities.SensorReading{}).
		Where("device_id = ? AND is_valid = ?", deviceID, true)
	if !since.IsZero() {
		query = query.Where("timestamp >= ?", since.UTC())
	}
	return query
}

func (r *readingRepository) ReadingStats(ctx context.Context, deviceID uint, since time.Time) (*ReadingStats, error) {
	stats := &ReadingStats{Fields: map[string]FieldStats{}, Hourly: []HourlyAverage{}}

	cols := []string{"COUNT(*)"}
	for _, f := range StatsFields {
		cols = append(cols, fmt.Sprintf("MIN(%[1]s), MAX(%[1]s), AVG(%[1]s), COUNT(%[1]s)", f))
	}
	row := r.statsScope(ctx, deviceID, since).Select(strings.Join(cols, ", ")).Row()

	type agg struct {
		min, max, avg sql.NullFloat64
		n             int64
	}
	aggs := make([]agg, len(StatsFields))
	dest := []any{&stats.Count}
	for i := range aggs {
		dest = append(dest, &aggs[i].min, &aggs[i].max, &aggs[i].avg, &aggs[i].n)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to aggregate readings of device %d: %w", deviceID, err)
	}
	for i, f := range StatsFields {
		if aggs[i].n == 0 {
			continue
		}
		stats.Fields[f] = FieldStats{
			Min:     aggs[i].min.Float64,
			Max:     aggs[i].max.Float64,
			Avg:     aggs[i].avg.Float64,
			Samples: aggs[i].n,
		}
	}
	if stats.Count == 0 {
		return stats, nil
	}

	hourly, err := r.hourly(ctx, deviceID, since)
	if err != nil {
		return nil, err
	}
	stats.Hourly = hourly
	return stats, nil
}

// hourly buckets readings by UTC hour in Go, which keeps the query free of
// dialect-specific date functions.
func (r *readingRepository) hourly(ctx context.Context, deviceID uint, since time.Time) ([]HourlyAverage, error) {
	rows, err := r.statsScope(ctx, deviceID, since).
		Select(append([]string{"timestamp"}, StatsFields...)).
		Order("timestamp").Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to load readings of device %d: %w", deviceID, err)
	}
	defer rows.Close()

	type bucket struct {
		hour  time.Time
		count int64
		sums  map[string]float64
		ns    map[string]int64
	}
	var buckets []*bucket
	for rows.Next() {
		var reading entities.SensorReading
		if err := r.db.ScanRows(rows, &reading); err != nil {
			return nil, fmt.Errorf("failed to scan reading of device %d: %w", deviceID, err)
		}
		hour := reading.Timestamp.UTC().Truncate(time.Hour)
		if len(buckets) == 0 || !buckets[len(buckets)-1].hour.Equal(hour) {
			buckets = append(buckets, &bucket{hour: hour, sums: map[string]float64{}, ns: map[string]int64{}})
		}
		b := buckets[len(buckets)-1]
		b.count++
		for _, f := range StatsFields {
			if v, ok := reading.FieldValue(f); ok {
				b.sums[f] += v
				b.ns[f]++
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read readings of device %d: %w", deviceID, err)
	}

	out := make([]HourlyAverage, 0, len(buckets))
	for _, b := range buckets {
		avg := make(map[string]float64, len(b.sums))
		for f, sum := range b.sums {
			avg[f] = sum / float64(b.ns[f])
		}
		out = append(out, HourlyAverage{Hour: b.hour, Count: b.count, Averages: avg})
	}
	return out, nil
}
