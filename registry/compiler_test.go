package registry_test

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamsquad/eventbus-go/catalog"
	"github.com/teamsquad/eventbus-go/contracts"
	"github.com/teamsquad/eventbus-go/examples/sample"
	"github.com/teamsquad/eventbus-go/registry"
	ausers "github.com/teamsquad/eventbus-go/registry/internal/collide/a/users"
	busers "github.com/teamsquad/eventbus-go/registry/internal/collide/b/users"
)

const testPkg = "github.com/teamsquad/eventbus-go/registry_test."

type SampleEvent struct {
	ID string
}

func (e *SampleEvent) EventName() string { return "sample_event" }

func (e *SampleEvent) ToArray() contracts.Fields {
	return contracts.Fields{}.With("id", e.ID)
}

func (e *SampleEvent) FromArray(f contracts.Fields) error {
	e.ID = f.StringOr("id", "")
	return nil
}

type SampleConsumer struct {
	contracts.BaseConsumer
}

func (*SampleConsumer) ListenSampleEvent(*SampleEvent) {}

// ListenLater has no parameters and is not a handler.
func (*SampleConsumer) ListenLater() {}

type RawConsumer struct {
	contracts.BaseConsumer
}

func (*RawConsumer) HandlePing(body string) {}

type BrokenConsumer struct {
	contracts.BaseConsumer
}

func (*BrokenConsumer) HandleSample(ev *SampleEvent, publishedAt string, retries int) {}

// NotAConsumer has a listen method but does not embed BaseConsumer.
type NotAConsumer struct{}

func (*NotAConsumer) ListenSampleEvent(*SampleEvent) {}

func testCatalog(extra ...catalog.Entry) *catalog.Catalog {
	entries := []catalog.Entry{
		catalog.Of((*SampleConsumer)(nil), "registry/compiler_test.go"),
		catalog.Of((*SampleEvent)(nil), "registry/compiler_test.go"),
		catalog.Of((*NotAConsumer)(nil), "registry/compiler_test.go"),
	}
	return catalog.New(append(entries, extra...)...)
}

func testConfig(t *testing.T) registry.Config {
	cfg := registry.DefaultConfig()
	cfg.OutputDir = filepath.Join(t.TempDir(), "config")
	return cfg
}

func readArtifact(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(data)
}

func TestCompiler_SingleListener(t *testing.T) {
	cfg := testConfig(t)
	cfg.WhiteList = []string{testPkg}

	var progress bytes.Buffer
	out, err := registry.NewCompiler(cfg, registry.WithProgress(&progress)).Compile(testCatalog())
	require.NoError(t, err)

	require.Len(t, out.Consumers, 1)
	entry := out.Consumers[0]
	assert.Equal(t, []string{"sample_event"}, entry.RoutingKeys)
	assert.True(t, entry.CreateQueue)
	assert.Equal(t, 1, entry.Workers)
	assert.Equal(t, "1 consumers generated\n", progress.String())

	assert.JSONEq(t, `[{
		"amqp": "default",
		"name": "github.com/teamsquad/eventbus-go/registry_test.SampleConsumer::ListenSampleEvent",
		"routing_key": ["sample_event"],
		"unique": false,
		"url": "/_/registry_test-sampleconsumer",
		"queue": "my_company.event.listen.registry_test.SampleConsumer.ListenSampleEvent",
		"exchange": "my_company.event_bus",
		"function": "ListenSampleEvent",
		"create_queue": true,
		"workers": 1,
		"params": {
			"passive": false,
			"durable": false,
			"exclusive": false,
			"auto_delete": false,
			"nowait": false,
			"args": {
				"x-expires": {"type": "int", "val": 300000},
				"x-ha-policy": {"type": "string", "val": "all"}
			}
		}
	}]`, readArtifact(t, cfg.OutputDir, registry.ConsumerConfigFile))

	assert.JSONEq(t, `{"registry_test-sampleconsumer": "github.com/teamsquad/eventbus-go/registry_test.SampleConsumer"}`,
		readArtifact(t, cfg.OutputDir, registry.ControllerMapFile))
	assert.JSONEq(t, `[{"pattern": "/_/registry_test-sampleconsumer", "route": "registry_test-sampleconsumer/index"}]`,
		readArtifact(t, cfg.OutputDir, registry.RoutesFile))

	files, err := os.ReadDir(cfg.OutputDir)
	require.NoError(t, err)
	assert.Len(t, files, 3, "staging directory is removed")
}

func TestCompiler_ManualHandlerIsVerbatim(t *testing.T) {
	cfg := testConfig(t)
	cfg.WhiteList = []string{"github.com/teamsquad/eventbus-go/examples/sample.PresenceConsumer"}

	out, err := registry.NewCompiler(cfg).Compile(sample.Catalog())
	require.NoError(t, err)

	require.Len(t, out.Consumers, 1)
	entry := out.Consumers[0]
	assert.Equal(t, []string{"user.online"}, entry.RoutingKeys)
	assert.Equal(t, "user.online.queue", entry.Queue)
	assert.Equal(t, "", entry.Exchange)
	assert.Equal(t, "ListenUserOnline", entry.Function)
	assert.Equal(t, "/_/sample-presenceconsumer", entry.URL)
	assert.Equal(t, contracts.DefaultQueueArgs(), entry.Params.Args)
}

func TestCompiler_SampleCatalog(t *testing.T) {
	cfg := testConfig(t)

	out, err := registry.NewCompiler(cfg).Generate(sample.Catalog())
	require.NoError(t, err)

	var names []string
	for _, c := range out.Consumers {
		names = append(names, c.Function)
	}
	assert.Equal(t, []string{
		"ListenCredentialsChanged",
		"ListenUserSignedUp",
		"HandleOrderPlaced",
		"ListenUserOnline",
		"HandleVideoPermissionChange",
	}, names, "catalog order, then method name")

	orders := out.Consumers[2]
	assert.Equal(t, "orders", orders.AMQP)
	assert.Equal(t, []string{"order.placed", "order.created"}, orders.RoutingKeys)
	assert.Equal(t, "orders.placed", orders.Queue)
	assert.Equal(t, 4, orders.Workers)
	assert.True(t, orders.Params.Durable)
	assert.Equal(t, "my_company.event_bus", orders.Exchange)

	assert.Equal(t, []string{"video_permission_change"}, out.Consumers[4].RoutingKeys)

	assert.Len(t, out.Controllers, 4)
	require.Len(t, out.Routes, 4)
	assert.Equal(t, registry.Route{Pattern: "/_/sample-userconsumer", Route: "sample-userconsumer/index"}, out.Routes[0])
	assert.Equal(t, "github.com/teamsquad/eventbus-go/examples/sample.UserConsumer", out.Controllers["sample-userconsumer"])
}

func TestCompiler_BlackList(t *testing.T) {
	cfg := testConfig(t)
	cfg.BlackList = []string{"github.com/teamsquad/eventbus-go/examples/sample.User", "github.com/teamsquad/eventbus-go/examples/sample.Order"}

	out, err := registry.NewCompiler(cfg).Generate(sample.Catalog())
	require.NoError(t, err)
	assert.Len(t, out.Consumers, 2)
	assert.NotContains(t, out.Controllers, "sample-userconsumer")
}

func TestCompiler_NoConsumersWritesNothing(t *testing.T) {
	cfg := testConfig(t)
	cfg.WhiteList = []string{"github.com/acme/nothing"}
	cfg.BlackList = []string{"github.com/acme/legacy"}

	_, err := registry.NewCompiler(cfg).Compile(sample.Catalog())

	var cfgErr *registry.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, []string{"github.com/acme/nothing"}, cfgErr.WhiteList)
	assert.Contains(t, err.Error(), "github.com/acme/legacy")
	assert.NoDirExists(t, cfg.OutputDir)
}

func TestCompiler_FailureKeepsPreviousArtifacts(t *testing.T) {
	cfg := testConfig(t)
	cfg.WhiteList = []string{testPkg}
	_, err := registry.NewCompiler(cfg).Compile(testCatalog())
	require.NoError(t, err)
	before := readArtifact(t, cfg.OutputDir, registry.ConsumerConfigFile)

	cfg.WhiteList = []string{testPkg + "Raw"}
	_, err = registry.NewCompiler(cfg).Compile(testCatalog(catalog.Of((*RawConsumer)(nil), "registry/compiler_test.go")))
	require.Error(t, err)

	assert.Equal(t, before, readArtifact(t, cfg.OutputDir, registry.ConsumerConfigFile))
}

func TestCompiler_ControllerCollision(t *testing.T) {
	cfg := testConfig(t)
	cat := catalog.New(
		catalog.Of((*ausers.Consumer)(nil), "a/users/users.go"),
		catalog.Of((*busers.Consumer)(nil), "b/users/users.go"),
	)

	_, err := registry.NewCompiler(cfg).Compile(cat)

	var cfgErr *registry.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "controller", cfgErr.Key)
	assert.Contains(t, cfgErr.Reason, "collide/a/users.Consumer")
	assert.Contains(t, cfgErr.Reason, "collide/b/users.Consumer")
	assert.Contains(t, cfgErr.Reason, "users-consumer")
	assert.NoDirExists(t, cfg.OutputDir)
}

func TestCompiler_DiscoveryErrors(t *testing.T) {
	tests := []struct {
		name    string
		entry   catalog.Entry
		handler string
	}{
		{"raw payload without manual config", catalog.Of((*RawConsumer)(nil), "raw.go"), testPkg + "RawConsumer::HandlePing"},
		{"too many parameters", catalog.Of((*BrokenConsumer)(nil), "broken.go"), testPkg + "BrokenConsumer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			_, err := registry.NewCompiler(cfg).Generate(testCatalog(tt.entry))

			var discoveryErr *registry.DiscoveryError
			require.ErrorAs(t, err, &discoveryErr)
			assert.Equal(t, tt.handler, discoveryErr.Handler)
		})
	}
}

func TestCompiler_CatalogChecks(t *testing.T) {
	cfg := testConfig(t)

	_, err := registry.NewCompiler(cfg).Compile(nil)
	assert.ErrorIs(t, err, registry.ErrCatalogNotFound)

	cfg.MinCatalogSize = 50
	_, err = registry.NewCompiler(cfg).Compile(sample.Catalog())
	var cfgErr *registry.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "min_catalog_size", cfgErr.Key)

	cfg.OutputDir = ""
	_, err = registry.NewCompiler(cfg).Compile(sample.Catalog())
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "configuration_path", cfgErr.Key)
}

func TestCompiler_UnwritableOutput(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	cfg.OutputDir = filepath.Join(blocker, "config")

	_, err := registry.NewCompiler(cfg).Compile(sample.Catalog())
	var artifactErr *registry.ArtifactError
	require.ErrorAs(t, err, &artifactErr)
	assert.Equal(t, cfg.OutputDir, artifactErr.Path)
}

func TestCompiler_UnwritableEventMapWritesNothing(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	cfg.EventMapPath = filepath.Join(blocker, "event_map.json")

	_, err := registry.NewCompiler(cfg).Compile(sample.Catalog())

	var artifactErr *registry.ArtifactError
	require.ErrorAs(t, err, &artifactErr)
	assert.Equal(t, cfg.EventMapPath, artifactErr.Path)
	assert.NoDirExists(t, cfg.OutputDir)
}

func TestCompiler_WritesEventMapAndLogs(t *testing.T) {
	cfg := testConfig(t)
	cfg.EventMapPath = filepath.Join(t.TempDir(), "event_map.json")

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	_, err := registry.NewCompiler(cfg, registry.WithCompilerLogger(logger)).Compile(sample.Catalog())
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"user.signed_up": "github.com/teamsquad/eventbus-go/examples/sample.UserSignedUp",
		"user.credentials_changed": "github.com/teamsquad/eventbus-go/examples/sample.UserCredentialsChanged",
		"order.placed": "github.com/teamsquad/eventbus-go/examples/sample.OrderPlaced",
		"order.created": "github.com/teamsquad/eventbus-go/examples/sample.OrderPlaced",
		"video_permission_change": "github.com/teamsquad/eventbus-go/examples/sample.VideoPermissionChange"
	}`, readArtifact(t, filepath.Dir(cfg.EventMapPath), "event_map.json"))
	assert.Contains(t, logs.String(), "consumers generated")
	assert.Contains(t, logs.String(), "consumers=5")

	entries, err := registry.ReadConsumerConfig(filepath.Join(cfg.OutputDir, registry.ConsumerConfigFile))
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}
