package homeassistant

import "github.com/victorjacobs/go-duco/duco"

type sensorDefinition struct {
	key   string
	name  string
	class string
	unit  string
}

var (
	co2Sensor = sensorDefinition{
		key:   "co2",
		name:  "CO2",
		class: "carbon_dioxide",
		unit:  "ppm",
	}
	humiditySensor = sensorDefinition{
		key:   "humidity",
		name:  "Humidity",
		class: "humidity",
		unit:  "%",
	}
	humiditySetpointSensor = sensorDefinition{
		key:   "humidity_setpoint",
		name:  "Humidity setpoint",
		class: "humidity",
		unit:  "%",
	}
)

// The active binary sensor is published for every device type.
const (
	activeKey   = "active"
	activeName  = "Active"
	activeClass = "running"
)

var sensorDefinitions = map[duco.DeviceType][]sensorDefinition{
	duco.DeviceTypeVLVCO2: {co2Sensor},
	duco.DeviceTypeVLVRH:  {humiditySensor, humiditySetpointSensor},
}

var allSensorDefinitions = []sensorDefinition{co2Sensor, humiditySensor, humiditySetpointSensor}
