package entities

import "time"

// Sensor field identifiers a rule can target.
const (
	SensorTemperature    = "temperature"
	SensorHumidity       = "humidity"
	SensorPressure       = "pressure"
	SensorLightIntensity = "light_intensity"
	SensorPM25           = "pm25"
	SensorPM10           = "pm10"
	SensorCO2            = "co2"
	SensorVOC            = "voc"
	SensorO3             = "o3"
	SensorNoiseLevel     = "noise_level"
	SensorBatteryLevel   = "battery_level"
	SensorSignalStrength = "signal_strength"
)

// SensorReading is one timestamped set of measurements from a device.
// Fields a device did not report are NULL.
type SensorReading struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	DeviceID       uint      `gorm:"not null;index:idx_sensor_readings_device_ts,priority:1" json:"device_id"`
	Timestamp      time.Time `gorm:"not null;index:idx_sensor_readings_device_ts,priority:2" json:"timestamp"`
	Temperature    *float64  `json:"temperature,omitempty"`
	Humidity       *float64  `json:"humidity,omitempty"`
	Pressure       *float64  `json:"pressure,omitempty"`
	LightIntensity *float64  `json:"light_intensity,omitempty"`
	UVIndex        *float64  `gorm:"column:uv_index" json:"uv_index,omitempty"`
	PM25           *float64  `gorm:"column:pm25" json:"pm25,omitempty"`
	PM10           *float64  `gorm:"column:pm10" json:"pm10,omitempty"`
	CO2            *float64  `gorm:"column:co2" json:"co2,omitempty"`
	VOC            *float64  `gorm:"column:voc" json:"voc,omitempty"`
	O3             *float64  `gorm:"column:o3" json:"o3,omitempty"`
	NoiseLevel     *float64  `json:"noise_level,omitempty"`
	WindSpeed      *float64  `json:"wind_speed,omitempty"`
	WindDirection  *float64  `json:"wind_direction,omitempty"`
	Rainfall       *float64  `json:"rainfall,omitempty"`
	BatteryLevel   *int      `json:"battery_level,omitempty"`
	SignalStrength *int      `json:"signal_strength,omitempty"`
	IsValid        bool      `gorm:"not null" json:"is_valid"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	Device         *Device   `gorm:"foreignKey:DeviceID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for GORM.
func (SensorReading) TableName() string {
	return "sensor_readings"
}

// FieldValue returns the value of the named sensor field and whether the
// device reported it.
func (r *SensorReading) FieldValue(sensor string) (float64, bool) {
	var f *float64
	switch sensor {
	case SensorTemperature:
		f = r.Temperature
	case SensorHumidity:
		f = r.Humidity
	case SensorPressure:
		f = r.Pressure
	case SensorLightIntensity:
		f = r.LightIntensity
	case SensorPM25:
		f = r.PM25
	case SensorPM10:
		f = r.PM10
	case SensorCO2:
		f = r.CO2
	case SensorVOC:
		f = r.VOC
	case SensorO3:
		f = r.O3
	case SensorNoiseLevel:
		f = r.NoiseLevel
	case SensorBatteryLevel:
		return intValue(r.BatteryLevel)
	case SensorSignalStrength:
		return intValue(r.SignalStrength)
	}
	if f == nil {
		return 0, false
	}
	return *f, true
}

// HasMeasurement reports whether at least one field is set.
func (r *SensorReading) HasMeasurement() bool {
	for _, p := range []*float64{
		r.Temperature, r.Humidity, r.Pressure, r.LightIntensity, r.UVIndex,
		r.PM25, r.PM10, r.CO2, r.VOC, r.O3, r.NoiseLevel, r.WindSpeed,
		r.WindDirection, r.Rainfall,
	} {
		if p != nil {
			return true
		}
	}
	return r.BatteryLevel != nil || r.SignalStrength != nil
}

func intValue(p *int) (float64, bool) {
	if p == nil {
		return 0, false
	}
	return float64(*p), true
}
