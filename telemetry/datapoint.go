package telemetry

// Datapoint binds a name to a DatapointValue. Names are not required to be unique within a Reading.
type Datapoint struct {
	name  string
	value DatapointValue
}

func NewDatapoint(name string, value DatapointValue) Datapoint {
	return Datapoint{name: name, value: value}
}

func (d Datapoint) Name() string { return d.name }

func (d Datapoint) Value() DatapointValue { return d.value }

// Equal reports whether both the names and the values are equal.
func (d Datapoint) Equal(other Datapoint) bool {
	return d.name == other.name && d.value.Equal(other.value)
}

func (d Datapoint) String() string {
	return d.name + "=" + d.value.String()
}
