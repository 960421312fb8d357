package xpush

import "encoding/json"

// SensorReading is the payload shared by sensor events. Data is whatever the
// sensor plugin reports: a number, a string or a JSON object.
type SensorReading struct {
	Data  Attr[any]
	Extra Extras
}

// Reading returns a SensorReading with Data set.
func Reading(data any) SensorReading { return SensorReading{Data: Some(data)} }

func (r SensorReading) Attrs() map[string]any {
	m := make(map[string]any, 1+len(r.Extra))
	r.Data.put(m, "data")
	return r.Extra.mergeInto(m)
}

// SensorDataChangeEvent is raised when a sensor has new data.
type SensorDataChangeEvent struct{ SensorReading }

// SensorDataAboveThresholdEvent is raised when a reading goes above the configured threshold.
type SensorDataAboveThresholdEvent struct{ SensorReading }

// SensorDataBelowThresholdEvent is raised when a reading goes below the configured threshold.
type SensorDataBelowThresholdEvent struct{ SensorReading }

func (SensorDataChangeEvent) EventType() string         { return "SensorDataChangeEvent" }
func (SensorDataAboveThresholdEvent) EventType() string { return "SensorDataAboveThresholdEvent" }
func (SensorDataBelowThresholdEvent) EventType() string { return "SensorDataBelowThresholdEvent" }

func readingKind(wrap func(SensorReading) EventData) EventFactory {
	return func(fields map[string]json.RawMessage) (EventData, error) {
		data, err := decodeAttr[any](fields, "data")
		if err != nil {
			return nil, err
		}
		extra, err := decodeExtras(fields, "data")
		if err != nil {
			return nil, err
		}
		return wrap(SensorReading{Data: data, Extra: extra}), nil
	}
}

func init() {
	mustRegisterEventKind("SensorDataChangeEvent", readingKind(func(r SensorReading) EventData {
		return SensorDataChangeEvent{r}
	}))
	mustRegisterEventKind("SensorDataAboveThresholdEvent", readingKind(func(r SensorReading) EventData {
		return SensorDataAboveThresholdEvent{r}
	}))
	mustRegisterEventKind("SensorDataBelowThresholdEvent", readingKind(func(r SensorReading) EventData {
		return SensorDataBelowThresholdEvent{r}
	}))
}
