package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/teamsquad/eventbus-go/catalog"
)

const (
	DefaultListenPrefix   = "my_company.event.listen"
	DefaultExchange       = "my_company.event_bus"
	DefaultMinCatalogSize = 1

	envPrefix = "EVENTBUS"
)

// Config drives a compilation.
type Config struct {
	// ListenPrefix starts every generated queue name.
	ListenPrefix string
	// Exchange is the exchange generated handlers bind to.
	Exchange string
	// OutputDir receives the artifacts. Required.
	OutputDir string
	WhiteList []string
	BlackList []string
	// MinCatalogSize rejects catalogs smaller than this, which usually means
	// the generated catalog is stale.
	MinCatalogSize int
	// EventMapPath, when set, also writes the routing key to type map there.
	EventMapPath string
}

// DefaultConfig returns a Config with the documented defaults and no output directory.
func DefaultConfig() Config {
	return Config{
		ListenPrefix:   DefaultListenPrefix,
		Exchange:       DefaultExchange,
		MinCatalogSize: DefaultMinCatalogSize,
	}
}

// Policy returns the inclusion policy built from the white and black lists.
func (c Config) Policy() catalog.Policy {
	return catalog.Policy{WhiteList: c.WhiteList, BlackList: c.BlackList}
}

// Validate reports the first missing mandatory key.
func (c Config) Validate() error {
	switch {
	case c.OutputDir == "":
		return c.errorf("configuration_path", "required")
	case c.ListenPrefix == "":
		return c.errorf("consumer_queue_listen_name", "required")
	case c.Exchange == "":
		return c.errorf("event_bus_exchange_name", "required")
	case c.MinCatalogSize < 0:
		return c.errorf("min_catalog_size", "must not be negative")
	}
	return nil
}

func (c Config) errorf(key, format string, args ...any) *ConfigError {
	return &ConfigError{
		Key:       key,
		Reason:    fmt.Sprintf(format, args...),
		WhiteList: c.WhiteList,
		BlackList: c.BlackList,
	}
}

// LoadConfig reads path, if given, then EVENTBUS_* environment variables.
// Environment values win over the file. List keys accept comma-separated
// strings.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	v.SetDefault("consumer_queue_listen_name", DefaultListenPrefix)
	v.SetDefault("event_bus_exchange_name", DefaultExchange)
	v.SetDefault("configuration_path", "")
	v.SetDefault("white_list", []string{})
	v.SetDefault("black_list", []string{})
	v.SetDefault("min_catalog_size", DefaultMinCatalogSize)
	v.SetDefault("event_map_path", "")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	cfg := Config{
		ListenPrefix:   v.GetString("consumer_queue_listen_name"),
		Exchange:       v.GetString("event_bus_exchange_name"),
		OutputDir:      v.GetString("configuration_path"),
		WhiteList:      stringList(v, "white_list"),
		BlackList:      stringList(v, "black_list"),
		MinCatalogSize: v.GetInt("min_catalog_size"),
		EventMapPath:   v.GetString("event_map_path"),
	}
	return cfg, nil
}

func stringList(v *viper.Viper, key string) []string {
	var raw []string
	if s, ok := v.Get(key).(string); ok {
		raw = strings.Split(s, ",")
	} else {
		raw = v.GetStringSlice(key)
	}

	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
