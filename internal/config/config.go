package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"

	"fieldplan/internal/geo"
	"fieldplan/internal/headloss"
	"fieldplan/internal/layout"
	"fieldplan/internal/route"
	"fieldplan/internal/session"
)

// Config models the per-project planning configuration.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"project"`
	Geometry struct {
		AreaScale float64 `yaml:"area_scale"`
	} `yaml:"geometry"`
	Routing struct {
		Offset float64 `yaml:"offset"`
		Probe  string  `yaml:"probe"`
	} `yaml:"routing"`
	Layout struct {
		PlantSpacingM  float64 `yaml:"plant_spacing_m"`
		LateralLengthM float64 `yaml:"lateral_length_m"`
		MinLengthM     float64 `yaml:"min_length_m"`
		Placement      string  `yaml:"placement"`
	} `yaml:"layout"`
	Pipes struct {
		DiameterMM struct {
			Main    float64 `yaml:"main"`
			Submain float64 `yaml:"submain"`
			Lateral float64 `yaml:"lateral"`
		} `yaml:"diameter_mm"`
	} `yaml:"pipes"`
	HeadLoss struct {
		Limits headloss.Limits `yaml:"limits"`
	} `yaml:"headloss"`
	Webhooks []Webhook `yaml:"webhooks"`
	Kafka    Kafka     `yaml:"kafka"`
}

// Webhook receives every project event as a JSON POST.
type Webhook struct {
	ID     string `yaml:"id"`
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
	// Events limits delivery to these event types; empty means all.
	Events []string `yaml:"events,omitempty"`
}

// Kafka publishes project events to a topic when brokers are set.
type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

func (k Kafka) Enabled() bool { return len(k.Brokers) > 0 }

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Geometry.AreaScale <= 0 {
		return fmt.Errorf("config.geometry.area_scale must be positive")
	}
	if c.Routing.Offset <= 0 {
		return fmt.Errorf("config.routing.offset must be positive")
	}
	if _, err := route.ParseProbe(c.Routing.Probe); err != nil {
		return fmt.Errorf("config.routing.probe: %w", err)
	}
	if c.Layout.PlantSpacingM <= 0 {
		return fmt.Errorf("config.layout.plant_spacing_m must be positive")
	}
	if c.Layout.LateralLengthM <= 0 {
		return fmt.Errorf("config.layout.lateral_length_m must be positive")
	}
	if c.Layout.MinLengthM < 0 || c.Layout.MinLengthM > c.Layout.LateralLengthM {
		return fmt.Errorf("config.layout.min_length_m must be between 0 and lateral_length_m")
	}
	if _, err := layout.ParsePlacement(c.Layout.Placement); err != nil {
		return fmt.Errorf("config.layout.placement: %w", err)
	}
	d := c.Pipes.DiameterMM
	if d.Main <= 0 || d.Submain <= 0 || d.Lateral <= 0 {
		return fmt.Errorf("config.pipes.diameter_mm values must be positive")
	}
	l := c.HeadLoss.Limits
	for name, r := range map[string]headloss.Range{
		"loss_coefficient":  l.LossCoefficient,
		"pipe_length":       l.PipeLength,
		"correction_factor": l.CorrectionFactor,
	} {
		if r.Max <= r.Min {
			return fmt.Errorf("config.headloss.limits.%s: max must exceed min", name)
		}
	}
	seen := map[string]bool{}
	for i, w := range c.Webhooks {
		if w.ID == "" {
			return fmt.Errorf("config.webhooks[%d].id is required", i)
		}
		if seen[w.ID] {
			return fmt.Errorf("config.webhooks has duplicate id %s", w.ID)
		}
		seen[w.ID] = true
		u, err := url.Parse(w.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config.webhooks[%s].url must be an http(s) URL", w.ID)
		}
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		return fmt.Errorf("config.kafka.topic is required when brokers are set")
	}
	return nil
}

// SessionDefaults maps the layout and pipe sections onto new sessions.
func (c *Config) SessionDefaults() session.Defaults {
	return session.Defaults{
		MainDiameterMM:    c.Pipes.DiameterMM.Main,
		SubmainDiameterMM: c.Pipes.DiameterMM.Submain,
		LateralDiameterMM: c.Pipes.DiameterMM.Lateral,
		PlantSpacingM:     c.Layout.PlantSpacingM,
		LateralLengthM:    c.Layout.LateralLengthM,
		MinLateralM:       c.Layout.MinLengthM,
	}
}

func (c *Config) Placement() layout.Placement {
	p, err := layout.ParsePlacement(c.Layout.Placement)
	if err != nil {
		return layout.OverPlants
	}
	return p
}

func (c *Config) Router() route.Router {
	probe, err := route.ParseProbe(c.Routing.Probe)
	if err != nil {
		probe = route.ProbeEndpoints
	}
	return route.Router{Offset: c.Routing.Offset, Probe: probe}
}

func (c *Config) HeadLossLimits() headloss.Limits { return c.HeadLoss.Limits }

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(projectID))).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID, projectID, geo.DefaultAreaScale, route.DefaultOffset)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

func (c *Config) YAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode config yaml: %w", err)
	}
	return string(data), nil
}

const defaultTemplate = `project:
  id: %s
  name: %s

geometry:
  # degrees squared to square meters; small-area approximation
  area_scale: %g

routing:
  offset: %g
  probe: endpoints

layout:
  plant_spacing_m: 1
  lateral_length_m: 20
  min_length_m: 1
  placement: over_plants

pipes:
  diameter_mm:
    main: 63
    submain: 40
    lateral: 16

headloss:
  limits:
    loss_coefficient:
      min: 0
      max: 100
    pipe_length:
      min: 0
      max: 100000
      min_exclusive: true
    correction_factor:
      min: 0
      max: 10
      min_exclusive: true

webhooks: []

kafka:
  brokers: []
  topic: fieldplan.events
`
