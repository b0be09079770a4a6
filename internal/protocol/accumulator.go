package protocol

// hiResUnit is the number of high-resolution ticks per second (2^30)
const hiResUnit = 1 << 30

// accumulator folds decoded fields into measurements and alerts.
// Context fields stick until the next field of the same type overwrites them.
// It is owned by a single Decode call.
type accumulator struct {
	values       Measurement
	notification Alert

	measurements []Measurement
	alerts       []Alert
}

func newAccumulator() *accumulator {
	return &accumulator{
		measurements: make([]Measurement, 0),
		alerts:       make([]Alert, 0),
	}
}

func (a *accumulator) apply(f Field) {
	switch f.Type {
	case TypeTime:
		a.values.Time = f.Number.Value
	case TypeTimeHR:
		a.values.Time = f.Number.Value / hiResUnit

	case TypeInterval:
		a.values.Interval = f.Number.Value
	case TypeIntervalHR:
		a.values.Interval = f.Number.Value / hiResUnit

	case TypeHost:
		a.values.Host = f.Text
	case TypePlugin:
		a.values.Plugin = f.Text
	case TypePluginInstance:
		a.values.PluginInstance = f.Text
	case TypeType:
		a.values.Type = f.Text
	case TypeTypeInstance:
		a.values.TypeInstance = f.Text

	case TypeSeverity:
		a.notification.Severity = Severity(f.Number.Raw)

	case TypeValues:
		a.values.Values = f.Values
		a.measurements = append(a.measurements, a.values.Clone())

	case TypeMessage:
		a.notification.Message = f.Text
		a.alerts = append(a.alerts, a.alert())
	}
}

// alert snapshots the notification with the shared identity context
func (a *accumulator) alert() Alert {
	n := a.notification
	n.Time = a.values.Time
	n.Host = a.values.Host
	n.Plugin = a.values.Plugin
	n.PluginInstance = a.values.PluginInstance
	n.Type = a.values.Type
	n.TypeInstance = a.values.TypeInstance
	return n
}
