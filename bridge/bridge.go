package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/victorjacobs/go-duco/controller"
	"github.com/victorjacobs/go-duco/duco"
	"github.com/victorjacobs/go-duco/homeassistant"
	"github.com/victorjacobs/go-duco/store"
)

const (
	ServiceType   = "_http._tcp"
	ServicePrefix = "DUCO "
	RetryDelay    = 30 * time.Second
)

var (
	ErrDiscoveryNotFound     = errors.New("could not find any DUCO instance on the local network")
	ErrUnsupportedDeviceType = errors.New("unsupported device type")
	ErrMissingLocation       = errors.New("node does not have a location set")
	ErrShutdown              = errors.New("bridge is shut down")
)

// Identities are derived from the serial number so accessories survive
// address and node changes.
var identityNamespace = uuid.MustParse("7d1f4e5a-3c8b-4f6e-9a2d-5b0c1e8f7a63")

func IdentityFor(serial string) string {
	return uuid.NewSHA1(identityNamespace, []byte(serial)).String()
}

type Finder interface {
	FindFirst(ctx context.Context, service string, prefix string) (string, error)
}

type DeviceClient interface {
	controller.Device
	ListNodes(ctx context.Context) ([]int, error)
	GetBoardInfo(ctx context.Context) (*duco.BoardInfo, error)
	GetNodeConfig(ctx context.Context, node int) (duco.NodeConfig, error)
}

type Host interface {
	Register(info homeassistant.Info) (controller.Accessory, error)
	Bind(id string, handler homeassistant.CommandHandler)
	Unbind(id string)
	Unregister(id string) error
}

type Store interface {
	List(ctx context.Context) ([]store.Record, error)
	Save(ctx context.Context, r store.Record) error
	UpdateState(ctx context.Context, id string, isOn bool, rotationSpeed int) error
	Delete(ctx context.Context, id string) error
}

type Observer interface {
	controller.PollObserver
	SetTracked(count int)
	ObserveDiscoveredNode(outcome string)
}

type Options struct {
	Finder    Finder
	NewClient func(host string) DeviceClient
	Host      Host
	// Store is optional; without it nothing is restored at startup.
	Store      Store
	Registry   *controller.Registry
	Observer   Observer
	Logger     zerolog.Logger
	Service    string
	Prefix     string
	RetryDelay time.Duration
}

type Bridge struct {
	finder     Finder
	newClient  func(host string) DeviceClient
	host       Host
	store      Store
	registry   *controller.Registry
	observer   Observer
	log        zerolog.Logger
	service    string
	prefix     string
	retryDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	// Serializes discovery runs.
	runMu sync.Mutex

	mu       sync.Mutex
	bundles  map[string]*bundle
	retry    *time.Timer
	retryGen uint64
	closed   bool
}

func New(opts Options) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())

	b := &Bridge{
		finder:     opts.Finder,
		newClient:  opts.NewClient,
		host:       opts.Host,
		store:      opts.Store,
		registry:   opts.Registry,
		observer:   opts.Observer,
		log:        opts.Logger,
		service:    opts.Service,
		prefix:     opts.Prefix,
		retryDelay: opts.RetryDelay,
		ctx:        ctx,
		cancel:     cancel,
		bundles:    make(map[string]*bundle),
	}

	if b.service == "" {
		b.service = ServiceType
	}
	if b.prefix == "" {
		b.prefix = ServicePrefix
	}
	if b.retryDelay == 0 {
		b.retryDelay = RetryDelay
	}
	if b.registry == nil {
		b.registry = controller.NewRegistry()
	}

	return b
}

// Run restores cached accessories, discovers devices and then waits until
// ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.Restore(ctx); err != nil {
		b.log.Error().Err(err).Msg("Could not restore cached accessories")
	}

	if err := b.Discover(ctx); err != nil {
		b.log.Error().Err(err).Msg("Discovery failed")
	}

	<-ctx.Done()
	b.Shutdown()

	return nil
}

func (b *Bridge) Restore(ctx context.Context) error {
	if b.store == nil {
		return nil
	}

	b.runMu.Lock()
	defer b.runMu.Unlock()

	records, err := b.store.List(ctx)
	if err != nil {
		return err
	}

	for _, r := range records {
		entry, err := bundleFromRecord(r)
		if err != nil {
			// Probably from an older version; discovery will add it again.
			b.log.Info().Err(err).Str("id", r.ID).Str("name", r.Name).Msg("Unregistering cached accessory because its context is invalid")

			if err := b.host.Unregister(r.ID); err != nil {
				b.log.Error().Err(err).Str("id", r.ID).Msg("Could not unregister accessory")
			}
			if err := b.store.Delete(ctx, r.ID); err != nil {
				b.log.Error().Err(err).Str("id", r.ID).Msg("Could not delete cached accessory")
			}
			continue
		}

		b.mu.Lock()
		_, tracked := b.bundles[entry.id]
		b.mu.Unlock()
		if tracked {
			continue
		}

		b.log.Info().Str("name", entry.name).Str("host", entry.endpoint.Host).Int("node", entry.endpoint.Node).Bool("on", r.IsOn).Msg("Loading accessory from cache")

		if err := b.track(entry, r.IsOn); err != nil {
			b.log.Error().Err(err).Str("id", r.ID).Msg("Could not restore accessory")
		}
	}

	b.reportTracked()

	return nil
}

func (b *Bridge) Discover(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	b.mu.Lock()
	b.cancelRetryLocked()
	b.mu.Unlock()

	b.log.Info().Msg("Searching for DUCO instance")

	host, err := b.finder.FindFirst(ctx, b.service, b.prefix)
	if err != nil {
		b.scheduleRetry()
		return fmt.Errorf("locating DUCO instance: %w", err)
	}
	if host == "" {
		b.log.Warn().Dur("retry_in", b.retryDelay).Msg("Could not find any DUCO instance on your local network")
		b.scheduleRetry()
		return ErrDiscoveryNotFound
	}

	client := b.newClient(host)

	// There is no real way to verify this is a DUCO instance; the board info
	// call at least verifies that the host works.
	boardInfo, err := client.GetBoardInfo(ctx)
	if err != nil {
		b.scheduleRetry()
		return fmt.Errorf("probing %v: %w", host, err)
	}
	b.log.Info().Str("host", host).Str("serial", boardInfo.Serial).Str("version", boardInfo.SoftwareVersion).Msg("Found DUCO instance")

	nodes, err := client.ListNodes(ctx)
	if err != nil {
		b.scheduleRetry()
		return fmt.Errorf("listing nodes of %v: %w", host, err)
	}

	for _, node := range nodes {
		outcome, err := b.reconcileNode(ctx, client, host, node)

		switch {
		case err == nil:
		case errors.Is(err, ErrShutdown):
			return err
		case errors.Is(err, ErrUnsupportedDeviceType):
			b.log.Debug().Err(err).Int("node", node).Msg("Ignoring unsupported device type")
			outcome = "unsupported"
		case errors.Is(err, ErrMissingLocation):
			b.log.Info().Int("node", node).Msg("Ignoring node because it does not have a location set. Configure a location first using the Duco Communication Print UI")
			outcome = "no_location"
		default:
			b.log.Error().Err(err).Int("node", node).Msg("Not adding DUCO node because of a failure when adding")
			outcome = "failed"
		}

		if b.observer != nil {
			b.observer.ObserveDiscoveredNode(outcome)
		}
	}

	b.reportTracked()

	return nil
}

func (b *Bridge) reconcileNode(ctx context.Context, client DeviceClient, host string, node int) (string, error) {
	info, err := client.GetNodeInfo(ctx, node)
	if err != nil {
		return "", fmt.Errorf("getting node info: %w", err)
	}

	if !info.Type.Supported() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDeviceType, info.Type)
	}

	// Nodes without a location lead to a horrible UX.
	if info.Location == "" {
		return "", ErrMissingLocation
	}

	config, err := client.GetNodeConfig(ctx, node)
	if err != nil {
		return "", fmt.Errorf("getting node config: %w", err)
	}

	id := IdentityFor(info.Serial)
	endpoint := Endpoint{Host: host, Node: node}

	b.mu.Lock()
	existing := b.bundles[id]
	b.mu.Unlock()

	entry := &bundle{
		id:              id,
		name:            fmt.Sprintf("%v %v", info.Location, info.Type.Label()),
		endpoint:        endpoint,
		classification:  Classification{Type: info.Type, Location: info.Location},
		serial:          info.Serial,
		softwareVersion: info.SoftwareVersion,
		config:          config,
		rotationSpeed:   info.ActualSpeed,
	}

	if existing != nil {
		if existing.endpoint == endpoint {
			return "unchanged", nil
		}

		b.log.Info().
			Str("id", id).
			Str("from", fmt.Sprintf("%v#%v", existing.endpoint.Host, existing.endpoint.Node)).
			Str("to", fmt.Sprintf("%v#%v", host, node)).
			Msg("Device moved, replacing controller")

		// The old controller knows the last polled level; the bundle only
		// covers the time before its first poll.
		isOn, err := existing.controller.OnGet()
		if err != nil {
			isOn = existing.on()
		}
		b.teardown(existing)

		entry.isOn = isOn
		if err := b.track(entry, isOn); err != nil {
			return "", err
		}
		return "migrated", nil
	}

	level, _ := duco.LevelFromOverrule(info.Overrule)
	isOn := level == duco.LevelHigh

	entry.isOn = isOn
	if err := b.track(entry, isOn); err != nil {
		return "", err
	}
	return "added", nil
}

// track registers the bundle with the host and starts its controller.
func (b *Bridge) track(entry *bundle, initialOn bool) error {
	if b.isClosed() {
		return ErrShutdown
	}

	accessory, err := b.host.Register(homeassistant.Info{
		ID:              entry.id,
		Name:            entry.name,
		Type:            entry.classification.Type,
		Serial:          entry.serial,
		SoftwareVersion: entry.softwareVersion,
		Location:        entry.classification.Location,
		Config:          entry.config,
	})
	if err != nil {
		return err
	}

	// The controller does not report its first poll, so the host starts from
	// the seeded state.
	_, rotationSpeed := entry.state()
	accessory.SetOn(initialOn)
	accessory.SetRotationSpeed(rotationSpeed)

	tracking := &trackingAccessory{Accessory: accessory, bridge: b, bundle: entry}

	b.registry.Add()

	var observer controller.PollObserver
	if b.observer != nil {
		observer = b.observer
	}

	entry.controller = controller.New(controller.Options{
		Host:      entry.endpoint.Host,
		Node:      entry.endpoint.Node,
		Type:      entry.classification.Type,
		Device:    b.newClient(entry.endpoint.Host),
		Accessory: tracking,
		Registry:  b.registry,
		InitialOn: &initialOn,
		Observer:  observer,
		OnSynced: func(level duco.VentilationLevel) {
			on := level == duco.LevelHigh
			if entry.setOn(on) {
				b.persistState(entry)
				accessory.SetOn(on)
			}
		},
		Logger: b.log.With().
			Str("component", "controller").
			Str("host", entry.endpoint.Host).
			Int("node", entry.endpoint.Node).
			Logger(),
	})

	b.host.Bind(entry.id, &commandHandler{bundle: entry, accessory: tracking})

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.host.Unbind(entry.id)
		entry.controller.Stop()
		b.registry.Remove()
		return ErrShutdown
	}
	b.bundles[entry.id] = entry
	b.mu.Unlock()

	b.save(entry)

	entry.controller.Start(b.ctx)

	return nil
}

func (b *Bridge) teardown(entry *bundle) {
	b.host.Unbind(entry.id)
	entry.controller.Stop()
	b.registry.Remove()

	b.mu.Lock()
	if b.bundles[entry.id] == entry {
		delete(b.bundles, entry.id)
	}
	b.mu.Unlock()
}

func (b *Bridge) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Bridge) Shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.cancelRetryLocked()

	bundles := make([]*bundle, 0, len(b.bundles))
	for _, entry := range b.bundles {
		bundles = append(bundles, entry)
	}
	b.mu.Unlock()

	for _, entry := range bundles {
		b.teardown(entry)
	}

	b.cancel()
	b.reportTracked()
}

func (b *Bridge) Devices() []DeviceStatus {
	b.mu.Lock()
	bundles := make([]*bundle, 0, len(b.bundles))
	for _, entry := range b.bundles {
		bundles = append(bundles, entry)
	}
	b.mu.Unlock()

	sort.Slice(bundles, func(i, j int) bool {
		return bundles[i].name < bundles[j].name
	})

	devices := make([]DeviceStatus, 0, len(bundles))
	for _, entry := range bundles {
		devices = append(devices, statusOf(entry))
	}

	return devices
}

func (b *Bridge) Device(id string) (DeviceStatus, bool) {
	b.mu.Lock()
	entry, ok := b.bundles[id]
	b.mu.Unlock()

	if !ok {
		return DeviceStatus{}, false
	}

	return statusOf(entry), true
}

func statusOf(entry *bundle) DeviceStatus {
	state, level := entry.controller.State()
	_, rotationSpeed := entry.state()

	status := DeviceStatus{
		ID:            entry.id,
		Name:          entry.name,
		Host:          entry.endpoint.Host,
		Node:          entry.endpoint.Node,
		Type:          entry.classification.Type,
		Location:      entry.classification.Location,
		Serial:        entry.serial,
		State:         state.String(),
		Level:         level,
		RotationSpeed: rotationSpeed,
		PollInterval:  entry.controller.Interval(),
	}

	if on, err := entry.controller.OnGet(); err == nil {
		status.On = &on
	}

	return status
}

func (b *Bridge) scheduleRetry() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.cancelRetryLocked()
	generation := b.retryGen

	b.retry = time.AfterFunc(b.retryDelay, func() {
		b.mu.Lock()
		stale := b.closed || generation != b.retryGen
		b.mu.Unlock()

		if stale {
			return
		}

		if err := b.Discover(b.ctx); err != nil {
			b.log.Error().Err(err).Msg("Discovery retry failed")
		}
	})
}

func (b *Bridge) cancelRetryLocked() {
	b.retryGen++
	if b.retry != nil {
		b.retry.Stop()
		b.retry = nil
	}
}

func (b *Bridge) save(entry *bundle) {
	if b.store == nil {
		return
	}

	config, err := json.Marshal(entry.config)
	if err != nil {
		b.log.Error().Err(err).Str("id", entry.id).Msg("Could not encode node config")
		return
	}

	isOn, rotationSpeed := entry.state()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := b.store.Save(ctx, store.Record{
		ID:              entry.id,
		Name:            entry.name,
		Host:            entry.endpoint.Host,
		Node:            entry.endpoint.Node,
		Serial:          entry.serial,
		SoftwareVersion: entry.softwareVersion,
		Type:            string(entry.classification.Type),
		Location:        entry.classification.Location,
		Config:          config,
		IsOn:            isOn,
		RotationSpeed:   rotationSpeed,
	}); err != nil {
		b.log.Error().Err(err).Str("id", entry.id).Msg("Could not cache accessory")
	}
}

func (b *Bridge) persistState(entry *bundle) {
	if b.store == nil {
		return
	}

	isOn, rotationSpeed := entry.state()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := b.store.UpdateState(ctx, entry.id, isOn, rotationSpeed); err != nil {
		b.log.Error().Err(err).Str("id", entry.id).Msg("Could not update cached accessory")
	}
}

func (b *Bridge) reportTracked() {
	if b.observer == nil {
		return
	}

	b.mu.Lock()
	count := len(b.bundles)
	b.mu.Unlock()

	b.observer.SetTracked(count)
}

func bundleFromRecord(r store.Record) (*bundle, error) {
	deviceType := duco.DeviceType(r.Type)

	switch {
	case r.Host == "":
		return nil, errors.New("missing host")
	case r.Node <= 0:
		return nil, errors.New("missing node")
	case !deviceType.Supported():
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDeviceType, r.Type)
	case r.Location == "":
		return nil, ErrMissingLocation
	case len(r.Config) == 0:
		return nil, errors.New("missing config")
	}

	config, err := duco.StoredNodeConfig(deviceType, r.Config)
	if err != nil {
		return nil, err
	}

	return &bundle{
		id:              r.ID,
		name:            r.Name,
		endpoint:        Endpoint{Host: r.Host, Node: r.Node},
		classification:  Classification{Type: deviceType, Location: r.Location},
		serial:          r.Serial,
		softwareVersion: r.SoftwareVersion,
		config:          config,
		isOn:            r.IsOn,
		rotationSpeed:   r.RotationSpeed,
	}, nil
}
