package registry

import (
	"fmt"
	"io"
	"log/slog"
	"reflect"

	"github.com/teamsquad/eventbus-go/catalog"
	"github.com/teamsquad/eventbus-go/contracts"
	"github.com/teamsquad/eventbus-go/serialization"
)

var consumerInterface = reflect.TypeOf((*contracts.Consumer)(nil)).Elem()

// Compiler turns a catalog into the controller map, route list and consumer
// configuration read by the consumer runtime.
type Compiler struct {
	cfg      Config
	logger   *slog.Logger
	progress io.Writer
}

// CompilerOption configures the Compiler
type CompilerOption func(*Compiler)

// WithCompilerLogger sets the logger
func WithCompilerLogger(logger *slog.Logger) CompilerOption {
	return func(c *Compiler) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithProgress prints a summary line to w after a successful compilation.
func WithProgress(w io.Writer) CompilerOption {
	return func(c *Compiler) {
		c.progress = w
	}
}

// NewCompiler creates a compiler for cfg.
func NewCompiler(cfg Config, options ...CompilerOption) *Compiler {
	c := &Compiler{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Compile generates the artifacts for cat and writes them to the configured
// output directory. Nothing is written when generation fails.
func (c *Compiler) Compile(cat *catalog.Catalog) (*Artifacts, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	artifacts, err := c.Generate(cat)
	if err != nil {
		return nil, err
	}

	// The event map only depends on the catalog, so it goes first: a failure
	// here leaves the consumer artifacts untouched.
	if c.cfg.EventMapPath != "" {
		events, err := serialization.NewEventMap(cat, serialization.WithLogger(c.logger))
		if err != nil {
			return nil, fmt.Errorf("build event map: %w", err)
		}
		if err := events.Save(c.cfg.EventMapPath); err != nil {
			return nil, &ArtifactError{Path: c.cfg.EventMapPath, Err: err}
		}
	}

	if err := artifacts.Write(c.cfg.OutputDir); err != nil {
		return nil, err
	}

	c.logger.Info("consumers generated",
		"consumers", len(artifacts.Consumers),
		"controllers", len(artifacts.Controllers),
		"dir", c.cfg.OutputDir)
	if c.progress != nil {
		fmt.Fprintf(c.progress, "%d consumers generated\n", len(artifacts.Consumers))
	}
	return artifacts, nil
}

// Generate builds the artifacts in memory. Catalog order is preserved and the
// first handler of a controller registers its route.
func (c *Compiler) Generate(cat *catalog.Catalog) (*Artifacts, error) {
	if cat == nil {
		return nil, ErrCatalogNotFound
	}
	if cat.Len() < c.cfg.MinCatalogSize {
		return nil, c.cfg.errorf("min_catalog_size",
			"catalog has %d entries, want at least %d; regenerate it", cat.Len(), c.cfg.MinCatalogSize)
	}

	policy := c.cfg.Policy()
	out := &Artifacts{Controllers: map[string]string{}}

	for _, entry := range cat.Entries() {
		if !policy.Includes(entry.Name) || !isConsumerType(entry.Type) {
			continue
		}

		handlers, err := c.consumerEntries(entry)
		if err != nil {
			return nil, err
		}
		if len(handlers) == 0 {
			continue
		}
		out.Consumers = append(out.Consumers, handlers...)

		id := ControllerID(entry.Type)
		owner, seen := out.Controllers[id]
		switch {
		case !seen:
			out.Controllers[id] = entry.Name
			out.Routes = append(out.Routes, ControllerRoute(entry.Type))
		case owner != entry.Name:
			return nil, c.cfg.errorf("controller",
				"%s and %s both map to controller %q; rename one of them", owner, entry.Name, id)
		}
	}

	switch {
	case len(out.Consumers) == 0:
		return nil, c.cfg.errorf("white_list", "no consumers matched the inclusion policy")
	case len(out.Controllers) == 0:
		return nil, c.cfg.errorf("white_list", "no controllers matched the inclusion policy")
	case len(out.Routes) == 0:
		return nil, c.cfg.errorf("white_list", "no routes generated")
	}

	c.logger.Debug("catalog compiled", "entries", cat.Len(), "consumers", len(out.Consumers))
	return out, nil
}

func (c *Compiler) consumerEntries(entry catalog.Entry) ([]HandlerEntry, error) {
	instance := reflect.New(entry.Type).Interface()

	profile := contracts.DefaultProfile
	if p, ok := instance.(contracts.Profiled); ok && p.AMQPProfile() != "" {
		profile = p.AMQPProfile()
	}
	var overrides map[string]contracts.HandlerConfig
	if cfg, ok := instance.(contracts.Configurable); ok {
		overrides = cfg.ConsumerConfig()
	}

	methods, err := catalog.HandlerMethods(entry.Type)
	if err != nil {
		return nil, &DiscoveryError{Handler: entry.Name, Reason: "invalid handler", Err: err}
	}

	out := make([]HandlerEntry, 0, len(methods))
	for _, m := range methods {
		he, err := c.handlerEntry(entry.Type, m, profile, overrides[m.Name])
		if err != nil {
			return nil, err
		}
		out = append(out, he)
	}
	return out, nil
}

func (c *Compiler) handlerEntry(t reflect.Type, m catalog.HandlerMethod, profile string, override contracts.HandlerConfig) (HandlerEntry, error) {
	name := HandlerName(t, m.Name)

	var keys []string
	switch {
	case override.Manual:
		if len(override.RoutingKeys) == 0 {
			return HandlerEntry{}, &DiscoveryError{Handler: name, Reason: "manual configuration needs at least one routing key"}
		}
	case serialization.IsEventType(m.Payload):
		ev, err := serialization.NewEvent(m.Payload)
		if err != nil {
			return HandlerEntry{}, &DiscoveryError{Handler: name, Reason: "cannot instantiate payload", Err: err}
		}
		keys = serialization.RoutingKeys(ev)
	default:
		return HandlerEntry{}, &DiscoveryError{
			Handler: name,
			Reason:  fmt.Sprintf("payload %s is not an Event or Command and the handler has no manual configuration", m.Payload),
		}
	}

	he := HandlerEntry{
		AMQP:        profile,
		Name:        name,
		RoutingKeys: keys,
		URL:         ControllerURL(t),
		Queue:       QueueName(c.cfg.ListenPrefix, t, m.Name),
		Exchange:    c.cfg.Exchange,
		Function:    m.Name,
		CreateQueue: true,
		Workers:     1,
		Params:      QueueParams{Args: contracts.DefaultQueueArgs()},
	}
	applyOverride(&he, override)
	return he, nil
}

func applyOverride(he *HandlerEntry, o contracts.HandlerConfig) {
	if o.AMQP != "" {
		he.AMQP = o.AMQP
	}
	if o.Name != "" {
		he.Name = o.Name
	}
	if len(o.RoutingKeys) > 0 {
		he.RoutingKeys = append([]string(nil), o.RoutingKeys...)
	}
	he.Unique = o.Unique
	if o.URL != "" {
		he.URL = o.URL
	}
	if o.Queue != "" {
		he.Queue = o.Queue
	}
	if o.Exchange != nil {
		he.Exchange = *o.Exchange
	}
	if o.Function != "" {
		he.Function = o.Function
	}
	if o.CreateQueue != nil {
		he.CreateQueue = *o.CreateQueue
	}
	if o.Workers > 0 {
		he.Workers = o.Workers
	}

	he.Params.Passive = o.Passive
	he.Params.Durable = o.Durable
	he.Params.Exclusive = o.Exclusive
	he.Params.AutoDelete = o.AutoDelete
	he.Params.NoWait = o.NoWait
	if o.Args != nil {
		he.Params.Args = o.Args
	}
}

func isConsumerType(t reflect.Type) bool {
	if t == nil || t.Kind() != reflect.Struct {
		return false
	}
	return reflect.PointerTo(t).Implements(consumerInterface)
}
