package alerting

import "github.com/envsense/envsense/internal/datastore/v2/entities"

// Schema describes the catalog a client needs to build rules and channels.
type Schema struct {
	Sensors      []SensorSchema   `json:"sensors"`
	Operators    []OperatorSchema `json:"operators"`
	Severities   []string         `json:"severities"`
	ChannelTypes []string         `json:"channel_types"`
}

// SensorSchema describes one rule-targetable sensor field.
type SensorSchema struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Unit  string `json:"unit"`
}

// OperatorSchema describes an operator and which thresholds it takes.
type OperatorSchema struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Range bool   `json:"range"` // uses threshold_min/threshold_max
}

// GetSchema returns the full alerting catalog.
func GetSchema() Schema {
	s := Schema{}
	for _, name := range SensorTypes() {
		info := sensors[name]
		s.Sensors = append(s.Sensors, SensorSchema{Name: name, Label: info.label, Unit: info.unit})
	}
	for _, op := range Operators() {
		s.Operators = append(s.Operators, OperatorSchema{Name: op, Label: OperatorLabel(op), Range: IsRangeOperator(op)})
	}
	for _, sev := range entities.Severities() {
		s.Severities = append(s.Severities, string(sev))
	}
	for _, ct := range entities.ChannelTypes() {
		s.ChannelTypes = append(s.ChannelTypes, string(ct))
	}
	return s
}
