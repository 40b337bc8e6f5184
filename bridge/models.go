package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/victorjacobs/go-duco/controller"
	"github.com/victorjacobs/go-duco/duco"
)

type Endpoint struct {
	Host string
	Node int
}

type Classification struct {
	Type     duco.DeviceType
	Location string
}

// bundle is everything tracked for one physical device.
type bundle struct {
	id              string
	name            string
	endpoint        Endpoint
	classification  Classification
	serial          string
	softwareVersion string
	config          duco.NodeConfig
	controller      *controller.Controller

	mu            sync.Mutex
	isOn          bool
	rotationSpeed int
}

func (b *bundle) on() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isOn
}

func (b *bundle) setOn(on bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	changed := b.isOn != on
	b.isOn = on
	return changed
}

func (b *bundle) setRotationSpeed(speed int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	changed := b.rotationSpeed != speed
	b.rotationSpeed = speed
	return changed
}

func (b *bundle) state() (bool, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isOn, b.rotationSpeed
}

// trackingAccessory keeps the bundle's cached state current before handing
// values on to the host.
type trackingAccessory struct {
	controller.Accessory
	bridge *Bridge
	bundle *bundle
}

func (a *trackingAccessory) SetOn(on bool) {
	if a.bundle.setOn(on) {
		a.bridge.persistState(a.bundle)
	}
	a.Accessory.SetOn(on)
}

func (a *trackingAccessory) SetRotationSpeed(speed int) {
	if a.bundle.setRotationSpeed(speed) {
		a.bridge.persistState(a.bundle)
	}
	a.Accessory.SetRotationSpeed(speed)
}

// commandHandler relays host writes to the bundle's controller.
type commandHandler struct {
	bundle    *bundle
	accessory controller.Accessory
}

func (h *commandHandler) OnSet(ctx context.Context, on bool) error {
	if err := h.bundle.controller.OnSet(ctx, on); err != nil {
		return err
	}

	// The controller does not notify for its own writes, so confirm the new
	// state to the host here.
	h.accessory.SetOn(on)

	return nil
}

type DeviceStatus struct {
	ID            string                `json:"id"`
	Name          string                `json:"name"`
	Host          string                `json:"host"`
	Node          int                   `json:"node"`
	Type          duco.DeviceType       `json:"type"`
	Location      string                `json:"location"`
	Serial        string                `json:"serial"`
	State         string                `json:"state"`
	Level         duco.VentilationLevel `json:"level,omitempty"`
	On            *bool                 `json:"on"`
	RotationSpeed int                   `json:"rotation_speed"`
	PollInterval  time.Duration         `json:"poll_interval"`
}
