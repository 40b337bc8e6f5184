package duco

import (
	"encoding/json"
	"fmt"
)

// NodeConfig is one of BoxConfig, RHValveConfig or CO2ValveConfig.
type NodeConfig interface {
	DeviceType() DeviceType
	Base() BaseConfig
}

type BaseConfig struct {
	Node          int    `json:"node"`
	AutoMin       int    `json:"auto_min"`
	AutoMax       int    `json:"auto_max"`
	Capacity      int    `json:"capacity"`
	Manual1       int    `json:"manual1"`
	Manual2       int    `json:"manual2"`
	Manual3       int    `json:"manual3"`
	ManualTimeout int    `json:"manual_timeout"`
	Location      string `json:"location"`
}

type BoxConfig struct {
	BaseConfig
}

type RHValveConfig struct {
	BaseConfig
	Setpoint int `json:"setpoint"`
	Delta    int `json:"delta"`
}

type CO2ValveConfig struct {
	BaseConfig
	Setpoint      int `json:"setpoint"`
	TempDependent int `json:"temp_dependent"`
}

func (c BoxConfig) DeviceType() DeviceType      { return DeviceTypeBox }
func (c BoxConfig) Base() BaseConfig            { return c.BaseConfig }
func (c RHValveConfig) DeviceType() DeviceType  { return DeviceTypeVLVRH }
func (c RHValveConfig) Base() BaseConfig        { return c.BaseConfig }
func (c CO2ValveConfig) DeviceType() DeviceType { return DeviceTypeVLVCO2 }
func (c CO2ValveConfig) Base() BaseConfig       { return c.BaseConfig }

// The device wraps every config parameter as {"Val": x, "Min": .., "Max": ..}.
type configValue struct {
	Val int `json:"Val"`
}

type rawNodeConfig struct {
	Node          int             `json:"node"`
	AutoMin       configValue     `json:"AutoMin"`
	AutoMax       configValue     `json:"AutoMax"`
	Capacity      configValue     `json:"Capacity"`
	Manual1       configValue     `json:"Manual1"`
	Manual2       configValue     `json:"Manual2"`
	Manual3       configValue     `json:"Manual3"`
	ManualTimeout configValue     `json:"ManualTimeout"`
	Location      json.RawMessage `json:"Location"`

	RHSetpoint    *configValue `json:"RHSetpoint"`
	RHDelta       *configValue `json:"RHDelta"`
	CO2Setpoint   *configValue `json:"CO2Setpoint"`
	TempDependent *configValue `json:"TempDependent"`
}

// decodeNodeConfig picks the variant by the fields present in the response:
// RH setpoint, then CO2 setpoint, then the plain box shape.
func decodeNodeConfig(data []byte) (NodeConfig, error) {
	var raw rawNodeConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding node config: %w", err)
	}

	location, err := decodeLocation(raw.Location)
	if err != nil {
		return nil, err
	}

	base := BaseConfig{
		Node:          raw.Node,
		AutoMin:       raw.AutoMin.Val,
		AutoMax:       raw.AutoMax.Val,
		Capacity:      raw.Capacity.Val,
		Manual1:       raw.Manual1.Val,
		Manual2:       raw.Manual2.Val,
		Manual3:       raw.Manual3.Val,
		ManualTimeout: raw.ManualTimeout.Val,
		Location:      location,
	}

	if raw.RHSetpoint != nil {
		config := RHValveConfig{BaseConfig: base, Setpoint: raw.RHSetpoint.Val}
		if raw.RHDelta != nil {
			config.Delta = raw.RHDelta.Val
		}
		return config, nil
	} else if raw.CO2Setpoint != nil {
		config := CO2ValveConfig{BaseConfig: base, Setpoint: raw.CO2Setpoint.Val}
		if raw.TempDependent != nil {
			config.TempDependent = raw.TempDependent.Val
		}
		return config, nil
	}

	return BoxConfig{BaseConfig: base}, nil
}

func decodeLocation(data json.RawMessage) (string, error) {
	if len(data) == 0 || string(data) == "null" {
		return "", nil
	}

	var location string
	if err := json.Unmarshal(data, &location); err == nil {
		return location, nil
	}

	var wrapped struct {
		Val string `json:"Val"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return "", fmt.Errorf("decoding node location: %w", err)
	}

	return wrapped.Val, nil
}

// StoredNodeConfig decodes a config previously serialized with json.Marshal.
func StoredNodeConfig(t DeviceType, data []byte) (NodeConfig, error) {
	var config NodeConfig
	var err error

	switch t {
	case DeviceTypeBox:
		var c BoxConfig
		err = json.Unmarshal(data, &c)
		config = c
	case DeviceTypeVLVRH:
		var c RHValveConfig
		err = json.Unmarshal(data, &c)
		config = c
	case DeviceTypeVLVCO2:
		var c CO2ValveConfig
		err = json.Unmarshal(data, &c)
		config = c
	default:
		return nil, fmt.Errorf("unsupported device type %q", t)
	}

	if err != nil {
		return nil, fmt.Errorf("decoding stored %v config: %w", t, err)
	}

	return config, nil
}

// Active reports whether a node ventilates above the minimum of its automatic
// range. Without a config any non-zero speed counts as active.
func Active(config NodeConfig, rotationSpeed int) bool {
	if config == nil {
		return rotationSpeed > 0
	}

	return rotationSpeed > config.Base().AutoMin
}

// HumiditySetpoint returns the relative humidity a humidity valve regulates
// towards.
func HumiditySetpoint(config NodeConfig) (int, bool) {
	rh, ok := config.(RHValveConfig)
	if !ok {
		return 0, false
	}

	return rh.Setpoint, true
}
