package noise

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultDBField is the decibel attribute read from a layer when none is set.
const DefaultDBField = "db"

// Config is the run configuration loaded from YAML.
type Config struct {
	Graph    GraphConfig   `yaml:"graph" json:"graph"`
	Layers   []LayerConfig `yaml:"layers" json:"layers" validate:"required,min=1,dive"`
	Zone     ZoneConfig    `yaml:"zone" json:"zone"`
	Pipeline Params        `yaml:"pipeline" json:"pipeline"`
	Output   OutputConfig  `yaml:"output" json:"output"`
	Log      LogConfig     `yaml:"log" json:"log"`
	MQTT     MQTTConfig    `yaml:"mqtt" json:"mqtt"`
	HTTP     HTTPConfig    `yaml:"http" json:"http"`
}

// GraphConfig locates the street graph edges.
type GraphConfig struct {
	Path       string `yaml:"path" json:"path" validate:"required"`
	IDProperty string `yaml:"idProperty,omitempty" json:"idProperty,omitempty"` // falls back to the feature id
}

// LayerConfig describes one noise layer and, optionally, where to download it.
type LayerConfig struct {
	Name     string     `yaml:"name" json:"name" validate:"required"`
	Path     string     `yaml:"path" json:"path" validate:"required"`
	DBField  string     `yaml:"dbField,omitempty" json:"dbField,omitempty"`
	Required bool       `yaml:"required,omitempty" json:"required,omitempty"`
	WFS      *WFSConfig `yaml:"wfs,omitempty" json:"wfs,omitempty"`
}

// WFSConfig is a WFS endpoint serving a layer as GeoJSON.
type WFSConfig struct {
	URL      string `yaml:"url" json:"url" validate:"required,url"`
	TypeName string `yaml:"typeName" json:"typeName" validate:"required"`
	SRSName  string `yaml:"srsName,omitempty" json:"srsName,omitempty"`
}

// ZoneConfig locates the nodata boundary strip. An empty path means no zone.
type ZoneConfig struct {
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// OutputConfig lists where results are written. Empty paths are skipped.
type OutputConfig struct {
	Profiles string `yaml:"profiles,omitempty" json:"profiles,omitempty"`
	Database string `yaml:"database,omitempty" json:"database,omitempty"`
	DebugDir string `yaml:"debugDir,omitempty" json:"debugDir,omitempty"`
	Metrics  string `yaml:"metrics,omitempty" json:"metrics,omitempty"`
	Map      string `yaml:"map,omitempty" json:"map,omitempty"`
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `yaml:"format,omitempty" json:"format,omitempty" validate:"omitempty,oneof=json console"`
}

// MQTTConfig holds MQTT connection settings. An empty broker disables publishing.
type MQTTConfig struct {
	Broker        string `yaml:"broker,omitempty" json:"broker,omitempty"`
	PublishPrefix string `yaml:"publishPrefix,omitempty" json:"publishPrefix,omitempty"`
	ClientID      string `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"-"`
}

// HTTPConfig configures the inspection server.
type HTTPConfig struct {
	Port        int      `yaml:"port,omitempty" json:"port,omitempty" validate:"gte=0,lte=65535"`
	CORSOrigins []string `yaml:"corsOrigins,omitempty" json:"corsOrigins,omitempty"`
	RateLimit   int      `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty" validate:"gte=0"` // requests per minute and client IP, 0 disables
}

// DefaultConfig returns a config with every optional value filled in.
func DefaultConfig() Config {
	return Config{
		Pipeline: DefaultParams(),
		Log:      LogConfig{Level: "info", Format: "json"},
		MQTT:     MQTTConfig{ClientID: "noisegraph", PublishPrefix: "noisegraph"},
		HTTP:     HTTPConfig{Port: 8080, CORSOrigins: []string{"*"}, RateLimit: 300},
	}
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// LoadConfig reads a YAML config, applies defaults and environment overrides,
// resolves relative paths against the config file directory and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}
	config.resolvePaths(filepath.Dir(path))
	return config, nil
}

// ParseConfig decodes and validates a YAML config.
func ParseConfig(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := structValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	seen := make(map[string]bool, len(c.Layers))
	for i, l := range c.Layers {
		if seen[l.Name] {
			return fmt.Errorf("%w: layers[%d]: duplicate name %q", ErrInvalidConfig, i, l.Name)
		}
		seen[l.Name] = true
	}

	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	return nil
}

// ApplyEnv overrides MQTT settings from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("MQTT_CLIENT_ID"); v != "" {
		c.MQTT.ClientID = v
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv("MQTT_PUBLISH_PREFIX"); v != "" {
		c.MQTT.PublishPrefix = v
	}
}

// DBFieldFor returns the decibel attribute of the layer.
func (l LayerConfig) DBFieldFor() string {
	if l.DBField == "" {
		return DefaultDBField
	}
	return l.DBField
}

func (c *Config) resolvePaths(base string) {
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	resolve(&c.Graph.Path)
	resolve(&c.Zone.Path)
	for i := range c.Layers {
		resolve(&c.Layers[i].Path)
	}
	resolve(&c.Output.Profiles)
	resolve(&c.Output.Database)
	resolve(&c.Output.DebugDir)
	resolve(&c.Output.Metrics)
	resolve(&c.Output.Map)
}
