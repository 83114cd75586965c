package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvironmentSecrets(t *testing.T) {
	t.Setenv("RABBIT_HOST", "rabbit.internal")
	t.Setenv("RABBIT_USER", "")

	s := NewEnvironmentSecrets()

	host, err := s.Get(KeyRabbitHost)
	require.NoError(t, err)
	assert.Equal(t, "rabbit.internal", host)

	_, err = s.Get(KeyRabbitUser)
	assert.ErrorIs(t, err, ErrSecretNotFound, "empty values count as missing")
	assert.Contains(t, err.Error(), "RABBIT_USER")

	assert.Equal(t, "/", s.FindByKey(KeyRabbitVHost, DefaultVHost))
}

func TestEnvironmentSecretsPrefix(t *testing.T) {
	t.Setenv("EVENTBUS_RABBIT_HOST", "prefixed")

	s := NewEnvironmentSecrets(WithEnvPrefix("eventbus"))
	assert.Equal(t, "prefixed", s.FindByKey(KeyRabbitHost, "localhost"))
}

func TestLoadEnvironmentSecretsDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("RABBIT_HOST=from-file\nRABBIT_PORT=5673\n"), 0o600))
	t.Setenv("RABBIT_PORT", "5674")

	s, err := LoadEnvironmentSecrets(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", s.FindByKey(KeyRabbitHost, ""))
	assert.Equal(t, "5674", s.FindByKey(KeyRabbitPort, ""), "environment wins")

	_, err = LoadEnvironmentSecrets(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestMemorySecrets(t *testing.T) {
	s := MemorySecrets{"rabbit_host": "localhost", "empty": ""}

	v, err := s.Get("rabbit_host")
	require.NoError(t, err)
	assert.Equal(t, "localhost", v)

	_, err = s.Get("nope")
	assert.ErrorIs(t, err, ErrSecretNotFound)
	assert.Equal(t, "fallback", s.FindByKey("nope", "fallback"))
	assert.Equal(t, "", s.FindByKey("empty", "fallback"))
}

func TestLoadBroker(t *testing.T) {
	b, err := LoadBroker(MemorySecrets{
		KeyRabbitHost: "rabbit",
		KeyRabbitPort: "5672",
		KeyRabbitUser: "guest",
		KeyRabbitPass: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, Broker{Host: "rabbit", Port: 5672, User: "guest", Password: "secret", VHost: "/"}, b)

	_, err = LoadBroker(MemorySecrets{KeyRabbitHost: "rabbit"})
	assert.ErrorIs(t, err, ErrSecretNotFound)

	_, err = LoadBroker(MemorySecrets{
		KeyRabbitHost: "rabbit",
		KeyRabbitPort: "amqp",
		KeyRabbitUser: "guest",
		KeyRabbitPass: "secret",
	})
	assert.ErrorContains(t, err, KeyRabbitPort)
}
