// Package config resolves broker secrets from the environment or memory.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// ErrSecretNotFound is returned by Get for missing or empty keys.
var ErrSecretNotFound = errors.New("config: secret not found")

// Broker connection keys.
const (
	KeyRabbitHost  = "rabbit_host"
	KeyRabbitPort  = "rabbit_port"
	KeyRabbitUser  = "rabbit_user"
	KeyRabbitPass  = "rabbit_pass"
	KeyRabbitVHost = "rabbit_vhost"

	DefaultVHost = "/"
)

// Secrets looks up configuration values by key.
type Secrets interface {
	// Get returns the value of key or an error wrapping ErrSecretNotFound.
	Get(key string) (string, error)
	// FindByKey returns the value of key, or def when it is missing or empty.
	FindByKey(key, def string) string
}

// EnvironmentSecrets reads keys from environment variables, upper-cased.
// An optional dotenv file supplies values the environment does not set.
type EnvironmentSecrets struct {
	v *viper.Viper
}

// EnvOption configures EnvironmentSecrets
type EnvOption func(*viper.Viper)

// WithEnvPrefix looks keys up as PREFIX_KEY.
func WithEnvPrefix(prefix string) EnvOption {
	return func(v *viper.Viper) {
		v.SetEnvPrefix(prefix)
	}
}

// NewEnvironmentSecrets creates environment-backed secrets.
func NewEnvironmentSecrets(options ...EnvOption) *EnvironmentSecrets {
	v := viper.New()
	for _, opt := range options {
		opt(v)
	}
	v.AutomaticEnv()
	return &EnvironmentSecrets{v: v}
}

// LoadEnvironmentSecrets is NewEnvironmentSecrets plus a dotenv file. A
// missing file is not an error.
func LoadEnvironmentSecrets(dotenv string, options ...EnvOption) (*EnvironmentSecrets, error) {
	s := NewEnvironmentSecrets(options...)
	s.v.SetConfigFile(dotenv)
	s.v.SetConfigType("dotenv")
	if err := s.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isNotExist(err) {
			return nil, fmt.Errorf("read %s: %w", dotenv, err)
		}
	}
	return s, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func (s *EnvironmentSecrets) Get(key string) (string, error) {
	if value := s.v.GetString(key); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("%w: environment variable %s", ErrSecretNotFound, strings.ToUpper(key))
}

func (s *EnvironmentSecrets) FindByKey(key, def string) string {
	if value := s.v.GetString(key); value != "" {
		return value
	}
	return def
}

// MemorySecrets is a fixed set of secrets.
type MemorySecrets map[string]string

func (m MemorySecrets) Get(key string) (string, error) {
	value, ok := m[key]
	if !ok {
		return "", fmt.Errorf("%w: key %s", ErrSecretNotFound, key)
	}
	return value, nil
}

func (m MemorySecrets) FindByKey(key, def string) string {
	if value, ok := m[key]; ok {
		return value
	}
	return def
}

// Broker holds the connection settings of a RabbitMQ broker.
type Broker struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string
}

// LoadBroker reads the rabbit_* keys. Host, port, user and password are
// required; the vhost defaults to DefaultVHost.
func LoadBroker(s Secrets) (Broker, error) {
	var (
		b   Broker
		err error
	)
	if b.Host, err = s.Get(KeyRabbitHost); err != nil {
		return Broker{}, err
	}
	port, err := s.Get(KeyRabbitPort)
	if err != nil {
		return Broker{}, err
	}
	if b.Port, err = strconv.Atoi(port); err != nil {
		return Broker{}, fmt.Errorf("config: %s: %w", KeyRabbitPort, err)
	}
	if b.User, err = s.Get(KeyRabbitUser); err != nil {
		return Broker{}, err
	}
	if b.Password, err = s.Get(KeyRabbitPass); err != nil {
		return Broker{}, err
	}
	b.VHost = s.FindByKey(KeyRabbitVHost, DefaultVHost)
	return b, nil
}
