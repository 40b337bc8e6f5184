package homeassistant

import (
	"strconv"
	"sync"

	"github.com/victorjacobs/go-duco/duco"
)

// Accessory publishes the state of one device. A device flagged as not
// responding is marked available again by the next value it reports.
type Accessory struct {
	client *Client
	id     string
	config duco.NodeConfig

	mu            sync.Mutex
	notResponding bool
}

func (a *Accessory) SetOn(on bool) {
	state := "OFF"
	if on {
		state = "ON"
	}

	a.markResponding()
	a.publishState("fan/state", state)
}

func (a *Accessory) SetRotationSpeed(speed int) {
	a.markResponding()
	a.publishState("fan/speed", strconv.Itoa(speed))

	active := "OFF"
	if duco.Active(a.config, speed) {
		active = "ON"
	}
	a.publishState(activeKey, active)
}

func (a *Accessory) SetCarbonDioxideLevel(ppm int) {
	a.publishState(co2Sensor.key, strconv.Itoa(ppm))
}

func (a *Accessory) SetCurrentRelativeHumidity(percentage int) {
	a.publishState(humiditySensor.key, strconv.Itoa(percentage))
}

func (a *Accessory) FlagAsNotResponding() {
	a.mu.Lock()
	a.notResponding = true
	a.mu.Unlock()

	a.publishState("availability", "offline")
}

func (a *Accessory) markAvailable() {
	a.mu.Lock()
	a.notResponding = false
	a.mu.Unlock()

	a.publishState("availability", "online")
}

func (a *Accessory) markResponding() {
	a.mu.Lock()
	wasNotResponding := a.notResponding
	a.notResponding = false
	a.mu.Unlock()

	if wasNotResponding {
		a.publishState("availability", "online")
	}
}

func (a *Accessory) publishState(suffix string, value string) {
	if err := a.client.publish(topic(a.id, suffix), true, value); err != nil {
		a.client.log.Error().Err(err).Str("id", a.id).Str("topic", suffix).Msg("MQTT publishing failed")
	}
}
