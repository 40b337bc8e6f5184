package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/victorjacobs/go-duco/duco"
)

type fakeDevice struct {
	mu        sync.Mutex
	infos     []*duco.NodeInfo
	errs      []error
	reads     int
	setValues []int
	setErr    error
}

// respond queues the result of the next GetNodeInfo call.
func (d *fakeDevice) respond(overrule int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.infos = append(d.infos, &duco.NodeInfo{Overrule: overrule, ActualSpeed: 20 + overrule%10, CO2: 650, RH: 55})
	d.errs = append(d.errs, err)
}

func (d *fakeDevice) GetNodeInfo(ctx context.Context, node int) (*duco.NodeInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.reads++
	if len(d.infos) == 0 {
		return nil, errors.New("no response queued")
	}

	info, err := d.infos[0], d.errs[0]
	d.infos, d.errs = d.infos[1:], d.errs[1:]
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (d *fakeDevice) SetOverrule(ctx context.Context, node int, value int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.setValues = append(d.setValues, value)
	return d.setErr
}

func (d *fakeDevice) readCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

type fakeAccessory struct {
	mu            sync.Mutex
	on            []bool
	speeds        []int
	co2           []int
	humidity      []int
	notResponding int
}

func (a *fakeAccessory) SetOn(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.on = append(a.on, on)
}

func (a *fakeAccessory) SetRotationSpeed(speed int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.speeds = append(a.speeds, speed)
}

func (a *fakeAccessory) SetCarbonDioxideLevel(ppm int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.co2 = append(a.co2, ppm)
}

func (a *fakeAccessory) SetCurrentRelativeHumidity(percentage int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.humidity = append(a.humidity, percentage)
}

func (a *fakeAccessory) FlagAsNotResponding() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.notResponding++
}

func newTestController(t *testing.T, deviceType duco.DeviceType, initialOn *bool) (*Controller, *fakeDevice, *fakeAccessory, *Registry) {
	t.Helper()

	device := &fakeDevice{}
	accessory := &fakeAccessory{}
	registry := NewRegistry()
	registry.Add()

	c := New(Options{
		Host:      "10.0.0.5",
		Node:      2,
		Type:      deviceType,
		Device:    device,
		Accessory: accessory,
		Registry:  registry,
		InitialOn: initialOn,
		Logger:    zerolog.Nop(),
	})
	t.Cleanup(c.Stop)

	return c, device, accessory, registry
}

func TestFirstTickDoesNotNotify(t *testing.T) {
	c, device, accessory, _ := newTestController(t, duco.DeviceTypeBox, nil)

	device.respond(100, nil)
	c.tick(context.Background())

	if len(accessory.on) != 0 {
		t.Errorf("SetOn called %v on first tick, want no calls", accessory.on)
	}
	if state, level := c.State(); state != StateSynced || level != duco.LevelHigh {
		t.Errorf("State() = %v, %v; want synced, HIGH", state, level)
	}
	if on, err := c.OnGet(); err != nil || !on {
		t.Errorf("OnGet() = %v, %v; want true, nil", on, err)
	}
}

func TestRepeatedLevelDoesNotNotify(t *testing.T) {
	c, device, accessory, _ := newTestController(t, duco.DeviceTypeBox, nil)

	for i := 0; i < 5; i++ {
		device.respond(255, nil)
		c.tick(context.Background())
	}

	if len(accessory.on) != 0 {
		t.Errorf("SetOn called %v, want no calls", accessory.on)
	}
	if len(accessory.speeds) != 5 {
		t.Errorf("SetRotationSpeed called %d times, want 5", len(accessory.speeds))
	}
}

func TestLevelTransitionsNotify(t *testing.T) {
	c, device, accessory, _ := newTestController(t, duco.DeviceTypeBox, nil)

	for _, overrule := range []int{255, 100, 100, 0, 50} {
		device.respond(overrule, nil)
		c.tick(context.Background())
	}

	want := []bool{true, false, false}
	if len(accessory.on) != len(want) {
		t.Fatalf("SetOn calls = %v, want %v", accessory.on, want)
	}
	for i := range want {
		if accessory.on[i] != want[i] {
			t.Errorf("SetOn call %d = %v, want %v", i, accessory.on[i], want[i])
		}
	}
	if _, level := c.State(); level != duco.LevelMedium {
		t.Errorf("level = %v, want MEDIUM", level)
	}
}

func TestUnmappedOverruleIsIgnored(t *testing.T) {
	c, device, accessory, _ := newTestController(t, duco.DeviceTypeBox, nil)

	device.respond(42, nil)
	c.tick(context.Background())
	if state, _ := c.State(); state != StateUnknown {
		t.Errorf("State() = %v after unmapped first reading, want unknown", state)
	}

	device.respond(100, nil)
	device.respond(42, nil)
	c.tick(context.Background())
	c.tick(context.Background())

	if state, level := c.State(); state != StateSynced || level != duco.LevelHigh {
		t.Errorf("State() = %v, %v; want synced, HIGH", state, level)
	}
	if len(accessory.on) != 0 {
		t.Errorf("SetOn called %v, want no calls", accessory.on)
	}
}

func TestFailureAfterSyncDegrades(t *testing.T) {
	c, device, accessory, _ := newTestController(t, duco.DeviceTypeBox, nil)

	device.respond(100, nil)
	device.respond(0, &duco.HTTPError{URL: "http://duco/nodeinfoget?node=2", Timeout: true})
	c.tick(context.Background())
	c.tick(context.Background())

	if state, level := c.State(); state != StateDegraded || level != duco.LevelHigh {
		t.Errorf("State() = %v, %v; want degraded, HIGH", state, level)
	}
	if on, err := c.OnGet(); err != nil || !on {
		t.Errorf("OnGet() = %v, %v; want last known true, nil", on, err)
	}
	if accessory.notResponding != 1 {
		t.Errorf("FlagAsNotResponding called %d times, want 1", accessory.notResponding)
	}

	// Recovering with the same level is not a change.
	device.respond(100, nil)
	c.tick(context.Background())
	if state, _ := c.State(); state != StateSynced {
		t.Errorf("State() = %v after recovery, want synced", state)
	}
	if len(accessory.on) != 0 {
		t.Errorf("SetOn called %v, want no calls", accessory.on)
	}
}

func TestFailureBeforeFirstPoll(t *testing.T) {
	c, device, accessory, _ := newTestController(t, duco.DeviceTypeBox, nil)

	device.respond(0, errors.New("connection refused"))
	c.tick(context.Background())

	if state, _ := c.State(); state != StateUnknown {
		t.Errorf("State() = %v, want unknown", state)
	}
	if _, err := c.OnGet(); !errors.Is(err, ErrNoDataYet) {
		t.Errorf("OnGet() error = %v, want ErrNoDataYet", err)
	}
	if accessory.notResponding != 1 {
		t.Errorf("FlagAsNotResponding called %d times, want 1", accessory.notResponding)
	}
}

func TestOnGetFallback(t *testing.T) {
	initiallyOn := true
	c, _, _, _ := newTestController(t, duco.DeviceTypeBox, &initiallyOn)

	if on, err := c.OnGet(); err != nil || !on {
		t.Errorf("OnGet() = %v, %v; want fallback true, nil", on, err)
	}
}

func TestSensorValuesFollowDeviceType(t *testing.T) {
	co2, co2Device, co2Accessory, _ := newTestController(t, duco.DeviceTypeVLVCO2, nil)
	co2Device.respond(255, nil)
	co2.tick(context.Background())

	if len(co2Accessory.co2) != 1 || co2Accessory.co2[0] != 650 || len(co2Accessory.humidity) != 0 {
		t.Errorf("CO2 valve pushed co2=%v humidity=%v", co2Accessory.co2, co2Accessory.humidity)
	}

	rh, rhDevice, rhAccessory, _ := newTestController(t, duco.DeviceTypeVLVRH, nil)
	rhDevice.respond(255, nil)
	rh.tick(context.Background())

	if len(rhAccessory.humidity) != 1 || rhAccessory.humidity[0] != 55 || len(rhAccessory.co2) != 0 {
		t.Errorf("RH valve pushed co2=%v humidity=%v", rhAccessory.co2, rhAccessory.humidity)
	}
}

func TestOnSet(t *testing.T) {
	c, device, accessory, _ := newTestController(t, duco.DeviceTypeBox, nil)

	if err := c.OnSet(context.Background(), true); err != nil {
		t.Fatalf("OnSet(true) error = %v", err)
	}
	if on, err := c.OnGet(); err != nil || !on {
		t.Errorf("OnGet() = %v, %v; want true, nil", on, err)
	}
	if c.Interval() != PollUnit {
		t.Errorf("Interval() = %v after write, want %v", c.Interval(), PollUnit)
	}

	if err := c.OnSet(context.Background(), false); err != nil {
		t.Fatalf("OnSet(false) error = %v", err)
	}
	if _, level := c.State(); level != duco.LevelAuto {
		t.Errorf("level = %v, want AUTO", level)
	}

	if len(device.setValues) != 2 || device.setValues[0] != 100 || device.setValues[1] != 255 {
		t.Errorf("SetOverrule values = %v, want [100 255]", device.setValues)
	}

	// Reading back what was just written is not a change.
	device.respond(255, nil)
	c.tick(context.Background())
	if len(accessory.on) != 0 {
		t.Errorf("SetOn called %v, want no calls", accessory.on)
	}
}

func TestOnSetRejected(t *testing.T) {
	c, device, _, _ := newTestController(t, duco.DeviceTypeBox, nil)

	device.respond(255, nil)
	c.tick(context.Background())

	device.setErr = &duco.WriteRejectedError{Node: 2, Value: 100, Body: "FAILED"}
	err := c.OnSet(context.Background(), true)

	var rejected *duco.WriteRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("OnSet() error = %v, want *WriteRejectedError", err)
	}
	if _, level := c.State(); level != duco.LevelAuto {
		t.Errorf("level = %v after rejected write, want AUTO", level)
	}
}

func TestIntervalFollowsControllerCount(t *testing.T) {
	c, device, _, registry := newTestController(t, duco.DeviceTypeBox, nil)
	registry.Add()
	registry.Add()

	c.restartTimer()
	if got, want := c.Interval(), 3*4000*time.Millisecond; got != want {
		t.Fatalf("Interval() = %v, want %v", got, want)
	}

	registry.Add()
	device.respond(255, nil)
	c.tick(context.Background())
	if got, want := c.Interval(), 4*4000*time.Millisecond; got != want {
		t.Errorf("Interval() = %v after count change, want %v", got, want)
	}

	registry.Remove()
	registry.Remove()
	device.respond(0, errors.New("timeout"))
	c.tick(context.Background())
	if got, want := c.Interval(), 2*4000*time.Millisecond; got != want {
		t.Errorf("Interval() = %v after failed tick, want %v", got, want)
	}
}

func TestStartPollsImmediatelyAndStopIsIdempotent(t *testing.T) {
	c, device, _, _ := newTestController(t, duco.DeviceTypeBox, nil)
	device.respond(100, nil)

	c.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for device.readCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("controller did not poll after Start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	c.Stop()
	c.Stop()

	// A stopped timer is never re-armed.
	c.restartTimer()
	select {
	case <-c.timer.C():
		t.Error("timer fired after Stop")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestFirstSyncIsReportedToHook(t *testing.T) {
	device := &fakeDevice{}
	accessory := &fakeAccessory{}
	registry := NewRegistry()
	registry.Add()

	var synced []duco.VentilationLevel
	c := New(Options{
		Node:      2,
		Type:      duco.DeviceTypeBox,
		Device:    device,
		Accessory: accessory,
		Registry:  registry,
		OnSynced:  func(level duco.VentilationLevel) { synced = append(synced, level) },
		Logger:    zerolog.Nop(),
	})
	t.Cleanup(c.Stop)

	device.respond(100, nil)
	device.respond(255, nil)
	c.tick(context.Background())
	c.tick(context.Background())

	if len(synced) != 1 || synced[0] != duco.LevelHigh {
		t.Errorf("OnSynced calls = %v, want [HIGH]", synced)
	}
	if len(accessory.on) != 1 || accessory.on[0] {
		t.Errorf("SetOn calls = %v, want only the change to off", accessory.on)
	}
}

func TestTimerDiscardsFireDuringTick(t *testing.T) {
	var tm timer
	defer tm.Stop()

	tm.Reschedule(5 * time.Millisecond)
	// Let it fire without anyone receiving, as during a slow tick.
	time.Sleep(30 * time.Millisecond)
	tm.Reschedule(200 * time.Millisecond)

	select {
	case <-tm.C():
		t.Error("timer fired immediately after being re-armed")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTickReArmsTimer(t *testing.T) {
	c, device, _, _ := newTestController(t, duco.DeviceTypeBox, nil)

	if c.timer.C() != nil {
		t.Fatal("timer armed before the first tick")
	}

	device.respond(255, nil)
	c.tick(context.Background())

	if c.timer.C() == nil || c.Interval() != PollUnit {
		t.Errorf("timer not re-armed after tick, interval = %v", c.Interval())
	}
}
