package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/victorjacobs/go-duco/duco"
)

// PollUnit is the poll interval per tracked controller. With N controllers
// polling, each one polls every N * PollUnit.
const PollUnit = 4 * time.Second

var ErrNoDataYet = errors.New("no ventilation level available yet")

type State int

const (
	StateUnknown State = iota
	StateSynced
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateSynced:
		return "synced"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

type Device interface {
	GetNodeInfo(ctx context.Context, node int) (*duco.NodeInfo, error)
	SetOverrule(ctx context.Context, node int, value int) error
}

// Accessory is the set of callbacks a controller pushes observations into.
type Accessory interface {
	SetOn(on bool)
	SetRotationSpeed(speed int)
	SetCarbonDioxideLevel(ppm int)
	SetCurrentRelativeHumidity(percentage int)
	FlagAsNotResponding()
}

type PollObserver interface {
	ObservePoll(host string, node int, outcome string)
}

const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeUnmapped = "unmapped"
)

type Options struct {
	Host      string
	Node      int
	Type      duco.DeviceType
	Device    Device
	Accessory Accessory
	Registry  *Registry
	// InitialOn is reported by OnGet until the first successful poll.
	InitialOn *bool
	Observer  PollObserver
	// OnSynced receives the level of the first successful poll, which is not
	// reported to the Accessory.
	OnSynced  func(level duco.VentilationLevel)
	Logger    zerolog.Logger
}

type Controller struct {
	host       string
	node       int
	deviceType duco.DeviceType
	device     Device
	accessory  Accessory
	registry   *Registry
	initialOn  *bool
	observer   PollObserver
	onSynced   func(level duco.VentilationLevel)
	log        zerolog.Logger

	mu       sync.Mutex
	state    State
	level    duco.VentilationLevel
	sizedFor int
	// Incremented on every successful write so a poll that was in flight
	// during the write does not overwrite the optimistic level.
	writes uint64
	cancel context.CancelFunc

	timer    timer
	stopOnce sync.Once
}

func New(opts Options) *Controller {
	return &Controller{
		host:       opts.Host,
		node:       opts.Node,
		deviceType: opts.Type,
		device:     opts.Device,
		accessory:  opts.Accessory,
		registry:   opts.Registry,
		initialOn:  opts.InitialOn,
		observer:   opts.Observer,
		onSynced:   opts.OnSynced,
		log:        opts.Logger,
	}
}

// Start polls immediately and then once per interval until ctx is done or
// Stop is called.
func (c *Controller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.restartTimer()

	go func() {
		c.tick(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.timer.C():
				c.tick(ctx)
			}
		}
	}()
}

func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.timer.Stop()

		c.mu.Lock()
		cancel := c.cancel
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
	})
}

func (c *Controller) State() (State, duco.VentilationLevel) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state, c.level
}

func (c *Controller) Interval() time.Duration {
	return c.timer.Interval()
}

func (c *Controller) OnGet() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateUnknown {
		if c.initialOn != nil {
			return *c.initialOn, nil
		}

		return false, ErrNoDataYet
	}

	return c.level == duco.LevelHigh, nil
}

func (c *Controller) OnSet(ctx context.Context, on bool) error {
	target := duco.LevelAuto
	if on {
		target = duco.LevelHigh
	}

	c.log.Info().Str("level", string(target)).Msg("Setting ventilation level")

	value, ok := target.Overrule()
	if !ok {
		return fmt.Errorf("%w: %v", duco.ErrUnknownLevel, target)
	}

	if err := c.device.SetOverrule(ctx, c.node, value); err != nil {
		c.log.Error().Err(err).Str("level", string(target)).Msg("Could not set ventilation level")
		return err
	}

	c.mu.Lock()
	c.state = StateSynced
	c.level = target
	c.writes++
	c.mu.Unlock()

	c.log.Info().Str("level", string(target)).Int("overrule", value).Msg("Ventilation level set")

	// Avoid reading back the value we just wrote on the next tick.
	c.restartTimer()

	return nil
}

func (c *Controller) tick(ctx context.Context) {
	c.mu.Lock()
	writes := c.writes
	c.mu.Unlock()

	// A teardown must not abort a read that is already on the wire; the
	// gateway timeout still bounds it.
	info, err := c.device.GetNodeInfo(context.WithoutCancel(ctx), c.node)
	if ctx.Err() != nil {
		return
	}

	if err != nil {
		c.fail(err)
	} else {
		c.apply(info, writes)
	}

	c.mu.Lock()
	sizedFor := c.sizedFor
	c.mu.Unlock()

	if count := c.registry.Count(); count != sizedFor {
		c.log.Debug().Int("from", sizedFor).Int("to", count).Msg("Controller count changed, rescheduling")
	}

	// Only re-armed once the tick has settled.
	c.restartTimer()
}

func (c *Controller) apply(info *duco.NodeInfo, writes uint64) {
	c.accessory.SetRotationSpeed(info.ActualSpeed)

	switch c.deviceType {
	case duco.DeviceTypeVLVCO2:
		c.accessory.SetCarbonDioxideLevel(info.CO2)
	case duco.DeviceTypeVLVRH:
		c.accessory.SetCurrentRelativeHumidity(info.RH)
	}

	level, ok := duco.LevelFromOverrule(info.Overrule)
	if !ok {
		c.log.Warn().Int("overrule", info.Overrule).Msg("Ignoring unknown overrule value")
		c.observe(OutcomeUnmapped)
		return
	}
	c.observe(OutcomeSuccess)

	c.mu.Lock()
	if c.writes != writes {
		c.mu.Unlock()
		c.log.Debug().Msg("Discarding ventilation level read during a write")
		return
	}
	previousState, previousLevel := c.state, c.level
	c.state = StateSynced
	c.level = level
	c.mu.Unlock()

	switch {
	case previousState == StateUnknown:
		c.log.Info().Str("level", string(level)).Msg("Ventilation level after startup")
		if c.onSynced != nil {
			c.onSynced(level)
		}
	case previousLevel == level:
		c.log.Debug().Str("level", string(level)).Msg("Ventilation level is unchanged")
	default:
		c.log.Info().Str("level", string(level)).Str("previous", string(previousLevel)).Msg("New ventilation level")
		c.accessory.SetOn(level == duco.LevelHigh)
	}
}

func (c *Controller) fail(err error) {
	c.observe(OutcomeFailure)

	c.mu.Lock()
	if c.state != StateUnknown {
		c.state = StateDegraded
	}
	state, level := c.state, c.level
	c.mu.Unlock()

	if state == StateUnknown {
		c.log.Error().Err(err).Msg("Could not receive ventilation level and also no fallback available")
	} else {
		c.log.Info().Err(err).Str("level", string(level)).Msg("Could not receive new ventilation level, falling back to old ventilation level which may be out of date")
	}

	c.accessory.FlagAsNotResponding()
}

func (c *Controller) restartTimer() {
	count := c.registry.Count()

	c.mu.Lock()
	c.sizedFor = count
	c.mu.Unlock()

	c.timer.Reschedule(intervalFor(count))
}

func (c *Controller) observe(outcome string) {
	if c.observer != nil {
		c.observer.ObservePoll(c.host, c.node, outcome)
	}
}

func intervalFor(count int) time.Duration {
	if count < 1 {
		count = 1
	}

	return time.Duration(count) * PollUnit
}
