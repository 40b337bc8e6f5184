package duco

type DeviceType string

const (
	DeviceTypeBox    DeviceType = "BOX"
	DeviceTypeVLVRH  DeviceType = "VLVRH"
	DeviceTypeVLVCO2 DeviceType = "VLVCO2"
)

func (t DeviceType) Supported() bool {
	switch t {
	case DeviceTypeBox, DeviceTypeVLVRH, DeviceTypeVLVCO2:
		return true
	}

	return false
}

func (t DeviceType) Label() string {
	switch t {
	case DeviceTypeBox:
		return "DucoBox"
	case DeviceTypeVLVRH:
		return "Humidity Control Valve"
	case DeviceTypeVLVCO2:
		return "CO2 Control Valve"
	}

	return string(t)
}

type BoardInfo struct {
	Serial          string `json:"serial"`
	Uptime          int64  `json:"uptime"`
	SoftwareVersion string `json:"swversion"`
	MAC             string `json:"mac"`
	IP              string `json:"ip"`
}

// NodeInfo is the live state of a single node. Type is kept as a raw DeviceType
// because the central unit may report types this package does not know about.
type NodeInfo struct {
	Node            int        `json:"node"`
	Type            DeviceType `json:"devtype"`
	Overrule        int        `json:"ovrl"`
	Serial          string     `json:"serialnb"`
	SoftwareVersion string     `json:"swversion"`
	Location        string     `json:"location"`
	CO2             int        `json:"co2"`
	RH              int        `json:"rh"`
	Mode            string     `json:"mode"`
	ActualSpeed     int        `json:"actl"`
}

type nodeList struct {
	Nodes []int `json:"nodelist"`
}
