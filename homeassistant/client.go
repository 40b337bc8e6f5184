package homeassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/victorjacobs/go-duco/config"
	"github.com/victorjacobs/go-duco/controller"
	"github.com/victorjacobs/go-duco/duco"
)

// Publisher is the subset of mqtt.Client used here.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type CommandHandler interface {
	OnSet(ctx context.Context, on bool) error
}

type Info struct {
	ID              string
	Name            string
	Type            duco.DeviceType
	Serial          string
	SoftwareVersion string
	Location        string
	Config          duco.NodeConfig
}

type Client struct {
	mqtt Publisher
	log  zerolog.Logger

	mu       sync.RWMutex
	handlers map[string]CommandHandler
}

func NewClient(mqtt Publisher, log zerolog.Logger) *Client {
	return &Client{
		mqtt:     mqtt,
		log:      log,
		handlers: make(map[string]CommandHandler),
	}
}

// Register publishes the discovery configuration of a device and returns the
// accessory its controller pushes state into.
func (h *Client) Register(info Info) (controller.Accessory, error) {
	device := &deviceConfiguration{
		Identifiers:   []string{info.ID},
		Name:          info.Name,
		Manufacturer:  "DUCO",
		Model:         info.Type.Label(),
		SwVersion:     info.SoftwareVersion,
		SerialNumber:  info.Serial,
		SuggestedArea: info.Location,
	}

	fanConfiguration, _ := json.Marshal(fanConfiguration{
		UniqueId:             uniqueId(info.ID),
		Name:                 info.Name,
		StateTopic:           topic(info.ID, "fan/state"),
		CommandTopic:         topic(info.ID, "fan/cmd"),
		PercentageStateTopic: topic(info.ID, "fan/speed"),
		AvailabilityTopic:    topic(info.ID, "availability"),
		Device:               device,
	})

	if err := h.publish(fanConfigTopic(info.ID), true, fanConfiguration); err != nil {
		return nil, fmt.Errorf("registering fan %v: %w", info.Name, err)
	}

	for _, sensor := range sensorDefinitions[info.Type] {
		sensorConfiguration, _ := json.Marshal(sensorConfiguration{
			UniqueId:          uniqueId(info.ID) + "_" + sensor.key,
			Name:              fmt.Sprintf("%v %v", info.Name, sensor.name),
			DeviceClass:       sensor.class,
			StateTopic:        topic(info.ID, sensor.key),
			UnitOfMeasurement: sensor.unit,
			AvailabilityTopic: topic(info.ID, "availability"),
			Device:            device,
		})

		if err := h.publish(sensorConfigTopic(info.ID, sensor), true, sensorConfiguration); err != nil {
			return nil, fmt.Errorf("registering sensor %v of %v: %w", sensor.name, info.Name, err)
		}
	}

	activeConfiguration, _ := json.Marshal(binarySensorConfiguration{
		UniqueId:          uniqueId(info.ID) + "_" + activeKey,
		Name:              fmt.Sprintf("%v %v", info.Name, activeName),
		DeviceClass:       activeClass,
		StateTopic:        topic(info.ID, activeKey),
		PayloadOn:         "ON",
		PayloadOff:        "OFF",
		AvailabilityTopic: topic(info.ID, "availability"),
		Device:            device,
	})

	if err := h.publish(activeConfigTopic(info.ID), true, activeConfiguration); err != nil {
		return nil, fmt.Errorf("registering active sensor of %v: %w", info.Name, err)
	}

	h.log.Info().Str("id", info.ID).Str("name", info.Name).Msg("Registered accessory")

	accessory := &Accessory{client: h, id: info.ID, config: info.Config}
	accessory.markAvailable()

	// The setpoint only changes through the device's own configuration UI.
	if setpoint, ok := duco.HumiditySetpoint(info.Config); ok {
		accessory.publishState(humiditySetpointSensor.key, strconv.Itoa(setpoint))
	}

	return accessory, nil
}

func (h *Client) Unregister(id string) error {
	h.Unbind(id)

	if err := h.publish(fanConfigTopic(id), true, ""); err != nil {
		return err
	}

	for _, sensor := range allSensorDefinitions {
		if err := h.publish(sensorConfigTopic(id, sensor), true, ""); err != nil {
			return err
		}
	}

	if err := h.publish(activeConfigTopic(id), true, ""); err != nil {
		return err
	}

	h.log.Info().Str("id", id).Msg("Unregistered accessory")

	return nil
}

func (h *Client) Bind(id string, handler CommandHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.handlers[id] = handler
}

func (h *Client) Unbind(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.handlers, id)
}

// SubscribeToCommands must be called from the MQTT on-connect handler so the
// subscription survives reconnects.
func (h *Client) SubscribeToCommands(mqttClient mqtt.Client) {
	if t := mqttClient.Subscribe(topic("+", "fan/cmd"), 0, func(client mqtt.Client, msg mqtt.Message) {
		go h.handleCommand(msg.Topic(), string(msg.Payload()))
	}); t.Wait() && t.Error() != nil {
		h.log.Error().Err(t.Error()).Msg("MQTT subscribe error")
	}
}

func (h *Client) handleCommand(commandTopic string, payload string) {
	id, ok := idFromCommandTopic(commandTopic)
	if !ok {
		h.log.Warn().Str("topic", commandTopic).Msg("Ignoring command on unexpected topic")
		return
	}

	h.mu.RLock()
	handler, ok := h.handlers[id]
	h.mu.RUnlock()

	if !ok {
		h.log.Warn().Str("id", id).Msg("Ignoring command for unknown accessory")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), duco.RequestTimeout)
	defer cancel()

	if err := handler.OnSet(ctx, payload != "OFF"); err != nil {
		h.log.Error().Err(err).Str("id", id).Str("command", payload).Msg("Error setting fan state")
	}
}

func (h *Client) publish(topic string, retained bool, payload interface{}) error {
	if t := h.mqtt.Publish(topic, 0, retained, payload); t.Wait() && t.Error() != nil {
		return t.Error()
	}

	return nil
}

func uniqueId(id string) string {
	return "duco_" + strings.ReplaceAll(id, "-", "")
}

func topic(id string, suffix string) string {
	return fmt.Sprintf("%v/%v/%v", config.TopicPrefix, id, suffix)
}

func fanConfigTopic(id string) string {
	return fmt.Sprintf("%v/fan/%v/config", config.HomeAssistantPrefix, uniqueId(id))
}

func sensorConfigTopic(id string, sensor sensorDefinition) string {
	return fmt.Sprintf("%v/sensor/%v_%v/config", config.HomeAssistantPrefix, uniqueId(id), sensor.key)
}

func activeConfigTopic(id string) string {
	return fmt.Sprintf("%v/binary_sensor/%v_%v/config", config.HomeAssistantPrefix, uniqueId(id), activeKey)
}

func idFromCommandTopic(commandTopic string) (string, bool) {
	parts := strings.Split(commandTopic, "/")
	if len(parts) != 4 || parts[0] != config.TopicPrefix || parts[2] != "fan" || parts[3] != "cmd" || parts[1] == "" {
		return "", false
	}

	return parts[1], true
}
