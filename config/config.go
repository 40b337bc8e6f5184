package config

import (
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const HomeAssistantPrefix = "homeassistant"
const TopicPrefix = "duco"

type Configuration struct {
	Duco     Duco     `yaml:"duco"`
	Mqtt     Mqtt     `yaml:"mqtt"`
	Http     Http     `yaml:"http"`
	Store    Store    `yaml:"store"`
	InfluxDB InfluxDB `yaml:"influxdb"`
	Logging  Logging  `yaml:"logging"`
}

type Duco struct {
	// Host skips mDNS discovery when set.
	Host          string        `yaml:"host"`
	Service       string        `yaml:"service"`
	NamePrefix    string        `yaml:"name_prefix"`
	BrowseTimeout time.Duration `yaml:"browse_timeout"`
}

type Mqtt struct {
	IpAddress string `yaml:"ip_address"`
	Port      int    `yaml:"port"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	ClientId  string `yaml:"client_id"`
}

type Http struct {
	Address string `yaml:"address"`
}

type Store struct {
	Path string `yaml:"path"`
}

type InfluxDB struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfiguration reads a YAML file. JSON is a subset of YAML, so JSON
// configuration files load as well.
func LoadConfiguration(filename string) (*Configuration, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	configuration := &Configuration{}
	if err := yaml.Unmarshal(data, configuration); err != nil {
		return nil, fmt.Errorf("parsing %v: %w", filename, err)
	}

	configuration.applyDefaults()

	if err := configuration.validate(); err != nil {
		return nil, err
	}

	return configuration, nil
}

func (c *Configuration) applyDefaults() {
	if c.Duco.Service == "" {
		c.Duco.Service = "_http._tcp"
	}
	if c.Duco.NamePrefix == "" {
		c.Duco.NamePrefix = "DUCO "
	}
	if c.Duco.BrowseTimeout == 0 {
		c.Duco.BrowseTimeout = 5 * time.Second
	}
	if c.Mqtt.Port == 0 {
		c.Mqtt.Port = 1883
	}
	if c.Mqtt.ClientId == "" {
		c.Mqtt.ClientId = "go-duco"
	}
	if c.Http.Address == "" {
		c.Http.Address = ":8080"
	}
	if c.Store.Path == "" {
		c.Store.Path = "duco.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}

func (c *Configuration) validate() error {
	if c.Mqtt.IpAddress == "" {
		return fmt.Errorf("mqtt.ip_address is required")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		return fmt.Errorf("influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	return nil
}

func (m *Mqtt) ClientOptions() *mqtt.ClientOptions {
	return mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%v:%v", m.IpAddress, m.Port)).
		SetClientID(m.ClientId).
		SetUsername(m.Username).
		SetPassword(m.Password).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(client mqtt.Client, err error) {
			log.Warn().Err(err).Msg("MQTT connection lost")
		}).
		SetReconnectingHandler(func(client mqtt.Client, opts *mqtt.ClientOptions) {
			log.Info().Msg("MQTT reconnecting")
		})
}
