package homeassistant

type deviceConfiguration struct {
	Identifiers   []string `json:"identifiers"`
	Name          string   `json:"name"`
	Manufacturer  string   `json:"manufacturer"`
	Model         string   `json:"model"`
	SwVersion     string   `json:"sw_version,omitempty"`
	SerialNumber  string   `json:"serial_number,omitempty"`
	SuggestedArea string   `json:"suggested_area,omitempty"`
}

type sensorConfiguration struct {
	UniqueId          string               `json:"unique_id"`
	Name              string               `json:"name"`
	DeviceClass       string               `json:"device_class,omitempty"`
	StateTopic        string               `json:"state_topic"`
	UnitOfMeasurement string               `json:"unit_of_measurement"`
	AvailabilityTopic string               `json:"availability_topic"`
	Device            *deviceConfiguration `json:"device"`
}

type fanConfiguration struct {
	UniqueId             string               `json:"unique_id"`
	Name                 string               `json:"name"`
	StateTopic           string               `json:"state_topic"`
	CommandTopic         string               `json:"command_topic"`
	PercentageStateTopic string               `json:"percentage_state_topic"`
	AvailabilityTopic    string               `json:"availability_topic"`
	Device               *deviceConfiguration `json:"device"`
}

type binarySensorConfiguration struct {
	UniqueId          string               `json:"unique_id"`
	Name              string               `json:"name"`
	DeviceClass       string               `json:"device_class,omitempty"`
	StateTopic        string               `json:"state_topic"`
	PayloadOn         string               `json:"payload_on"`
	PayloadOff        string               `json:"payload_off"`
	AvailabilityTopic string               `json:"availability_topic"`
	Device            *deviceConfiguration `json:"device"`
}
