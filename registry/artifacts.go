package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/teamsquad/eventbus-go/contracts"
	"github.com/teamsquad/eventbus-go/internal/fsutil"
	"github.com/teamsquad/eventbus-go/internal/jsoncodec"
)

// Artifact file names inside the output directory.
const (
	ControllerMapFile  = "controller_map.json"
	RoutesFile         = "routes.json"
	ConsumerConfigFile = "consumer_config.json"
)

// QueueParams are the declaration flags the runtime uses for a handler queue.
type QueueParams struct {
	Passive    bool           `json:"passive"`
	Durable    bool           `json:"durable"`
	Exclusive  bool           `json:"exclusive"`
	AutoDelete bool           `json:"auto_delete"`
	NoWait     bool           `json:"nowait"`
	Args       contracts.Args `json:"args"`
}

// HandlerEntry is one consumer_config record.
type HandlerEntry struct {
	AMQP        string      `json:"amqp"`
	Name        string      `json:"name"`
	RoutingKeys []string    `json:"routing_key"`
	Unique      bool        `json:"unique"`
	URL         string      `json:"url"`
	Queue       string      `json:"queue"`
	Exchange    string      `json:"exchange"`
	Function    string      `json:"function"`
	CreateQueue bool        `json:"create_queue"`
	Workers     int         `json:"workers"`
	Params      QueueParams `json:"params"`
}

// Route maps a URL pattern to a controller route.
type Route struct {
	Pattern string `json:"pattern"`
	Route   string `json:"route"`
}

// Artifacts is the compiler output.
type Artifacts struct {
	// Controllers maps a controller id to its fully-qualified type name.
	Controllers map[string]string
	Routes      []Route
	Consumers   []HandlerEntry
}

// Write persists the three artifacts into dir, creating it if needed. Files
// are staged first so a failure leaves the previous artifacts untouched.
func (a *Artifacts) Write(dir string) (err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &ArtifactError{Path: dir, Err: err}
	}

	files := []struct {
		name string
		v    any
	}{
		{ControllerMapFile, a.Controllers},
		{RoutesFile, a.Routes},
		{ConsumerConfigFile, a.Consumers},
	}

	encoded := make([][]byte, len(files))
	for i, f := range files {
		data, err := jsoncodec.MarshalIndent(f.v, "", "  ")
		if err != nil {
			return &ArtifactError{Path: filepath.Join(dir, f.name), Err: fmt.Errorf("encode: %w", err)}
		}
		encoded[i] = data
	}

	stage, err := fsutil.NewStageDir(dir)
	if err != nil {
		return &ArtifactError{Path: dir, Err: err}
	}
	defer func() {
		err = errors.Join(err, stage.Discard())
	}()

	for i, f := range files {
		if err := stage.WriteFile(f.name, encoded[i], 0o644); err != nil {
			return &ArtifactError{Path: filepath.Join(dir, f.name), Err: err}
		}
	}
	if err := stage.Commit(); err != nil {
		return &ArtifactError{Path: dir, Err: err}
	}
	return nil
}

// ReadConsumerConfig loads a consumer_config artifact.
func ReadConsumerConfig(path string) ([]HandlerEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []HandlerEntry
	if err := jsoncodec.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return entries, nil
}
