package influx

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/victorjacobs/go-duco/config"
	"github.com/victorjacobs/go-duco/controller"
	"github.com/victorjacobs/go-duco/homeassistant"
)

const (
	measurement    = "duco"
	connectTimeout = 10 * time.Second
)

var ErrConnectionFailed = errors.New("influxdb connection failed")

type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

type Host interface {
	Register(info homeassistant.Info) (controller.Accessory, error)
	Bind(id string, handler homeassistant.CommandHandler)
	Unbind(id string)
	Unregister(id string) error
}

// Recorder writes every observation pushed into an accessory to InfluxDB.
type Recorder struct {
	client influxdb2.Client
	writer pointWriter
	now    func() time.Time
}

func Connect(cfg config.InfluxDB, log zerolog.Logger) (*Recorder, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			log.Error().Err(err).Msg("InfluxDB write failed")
		}
	}()

	return &Recorder{client: client, writer: writeAPI, now: time.Now}, nil
}

func (r *Recorder) Close() {
	r.writer.Flush()
	if r.client != nil {
		r.client.Close()
	}
}

// WrapHost returns a host whose accessories also record to InfluxDB.
func (r *Recorder) WrapHost(host Host) Host {
	return &recordingHost{Host: host, recorder: r}
}

func (r *Recorder) record(info homeassistant.Info, field string, value interface{}) {
	r.writer.WritePoint(write.NewPoint(
		measurement,
		map[string]string{
			"id":       info.ID,
			"name":     info.Name,
			"type":     string(info.Type),
			"location": info.Location,
		},
		map[string]interface{}{field: value},
		r.now(),
	))
}

type recordingHost struct {
	Host
	recorder *Recorder
}

func (h *recordingHost) Register(info homeassistant.Info) (controller.Accessory, error) {
	accessory, err := h.Host.Register(info)
	if err != nil {
		return nil, err
	}

	return &recordingAccessory{Accessory: accessory, recorder: h.recorder, info: info}, nil
}

type recordingAccessory struct {
	controller.Accessory
	recorder *Recorder
	info     homeassistant.Info
}

func (a *recordingAccessory) SetOn(on bool) {
	a.recorder.record(a.info, "on", on)
	a.Accessory.SetOn(on)
}

func (a *recordingAccessory) SetRotationSpeed(speed int) {
	a.recorder.record(a.info, "rotation_speed", speed)
	a.Accessory.SetRotationSpeed(speed)
}

func (a *recordingAccessory) SetCarbonDioxideLevel(ppm int) {
	a.recorder.record(a.info, "co2", ppm)
	a.Accessory.SetCarbonDioxideLevel(ppm)
}

func (a *recordingAccessory) SetCurrentRelativeHumidity(percentage int) {
	a.recorder.record(a.info, "humidity", percentage)
	a.Accessory.SetCurrentRelativeHumidity(percentage)
}
