// Package alerting evaluates sensor readings against alert rules, tracks the
// resulting alert records and fans notifications out to the owner's
// channels.
package alerting

import "github.com/envsense/envsense/internal/datastore/v2/entities"

// Comparison operators a rule can use.
const (
	OperatorGreaterThan = "greater_than"
	OperatorLessThan    = "less_than"
	OperatorEqual       = "equal"
	OperatorNotEqual    = "not_equal"
	OperatorBetween     = "between"
	OperatorOutside     = "outside"
)

// DefaultEqualityEpsilon is the tolerance used by equal and not_equal.
const DefaultEqualityEpsilon = 1e-9

var operatorLabels = map[string]string{
	OperatorGreaterThan: "greater than",
	OperatorLessThan:    "less than",
	OperatorEqual:       "equal to",
	OperatorNotEqual:    "not equal to",
	OperatorBetween:     "between",
	OperatorOutside:     "outside",
}

// Operators lists the operators in display order.
func Operators() []string {
	return []string{
		OperatorGreaterThan, OperatorLessThan, OperatorEqual,
		OperatorNotEqual, OperatorBetween, OperatorOutside,
	}
}

// IsRangeOperator reports whether op compares against a min/max pair.
func IsRangeOperator(op string) bool {
	return op == OperatorBetween || op == OperatorOutside
}

// OperatorLabel returns the human readable form of op.
func OperatorLabel(op string) string {
	if l, ok := operatorLabels[op]; ok {
		return l
	}
	return op
}

type sensorInfo struct {
	label string
	unit  string
}

var sensors = map[string]sensorInfo{
	entities.SensorTemperature:    {"Temperature", "°C"},
	entities.SensorHumidity:       {"Humidity", "%"},
	entities.SensorPressure:       {"Pressure", "hPa"},
	entities.SensorLightIntensity: {"Light intensity", "lux"},
	entities.SensorPM25:           {"PM2.5", "µg/m³"},
	entities.SensorPM10:           {"PM10", "µg/m³"},
	entities.SensorCO2:            {"CO2", "ppm"},
	entities.SensorVOC:            {"VOC", "ppb"},
	entities.SensorO3:             {"O3", "ppb"},
	entities.SensorNoiseLevel:     {"Noise level", "dB"},
	entities.SensorBatteryLevel:   {"Battery level", "%"},
	entities.SensorSignalStrength: {"Signal strength", "dBm"},
}

// SensorTypes lists the sensor fields a rule can target, in display order.
func SensorTypes() []string {
	return []string{
		entities.SensorTemperature, entities.SensorHumidity, entities.SensorPressure,
		entities.SensorLightIntensity, entities.SensorPM25, entities.SensorPM10,
		entities.SensorCO2, entities.SensorVOC, entities.SensorO3,
		entities.SensorNoiseLevel, entities.SensorBatteryLevel, entities.SensorSignalStrength,
	}
}

// IsSensorType reports whether s names a rule-targetable sensor field.
func IsSensorType(s string) bool {
	_, ok := sensors[s]
	return ok
}

// SensorLabel returns the display label of a sensor field.
func SensorLabel(s string) string {
	if info, ok := sensors[s]; ok {
		return info.label
	}
	return s
}

// Suppression reasons reported to metrics.
const (
	suppressedCooldown = "cooldown"
	suppressedPending  = "pending"
)

const componentAlerting = "alerting"
