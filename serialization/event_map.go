package serialization

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sort"
	"sync"

	"github.com/teamsquad/eventbus-go/catalog"
	"github.com/teamsquad/eventbus-go/contracts"
	"github.com/teamsquad/eventbus-go/internal/fsutil"
	"github.com/teamsquad/eventbus-go/internal/jsoncodec"
)

var eventInterface = reflect.TypeOf((*contracts.Event)(nil)).Elem()

// EventMap resolves routing keys to event types.
type EventMap struct {
	types     map[string]reflect.Type
	names     map[string]string
	encrypter contracts.StringEncrypt
	logger    *slog.Logger
	mu        sync.RWMutex
}

// EventMapOption configures an EventMap.
type EventMapOption func(*eventMapConfig)

type eventMapConfig struct {
	policy    *catalog.Policy
	cacheFile string
	encrypter contracts.StringEncrypt
	logger    *slog.Logger
}

// WithPolicy restricts discovery to entries the policy includes.
func WithPolicy(policy catalog.Policy) EventMapOption {
	return func(c *eventMapConfig) {
		c.policy = &policy
	}
}

// WithCacheFile loads the map from path when present and saves it there after
// discovery otherwise.
func WithCacheFile(path string) EventMapOption {
	return func(c *eventMapConfig) {
		c.cacheFile = path
	}
}

// WithEncrypter sets the transformation used to decrypt protected fields.
func WithEncrypter(enc contracts.StringEncrypt) EventMapOption {
	return func(c *eventMapConfig) {
		c.encrypter = enc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) EventMapOption {
	return func(c *eventMapConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func newEventMap(cfg *eventMapConfig) *EventMap {
	return &EventMap{
		types:     make(map[string]reflect.Type),
		names:     make(map[string]string),
		encrypter: cfg.encrypter,
		logger:    cfg.logger,
	}
}

// NewEventMap builds the map for cat. When a cache file is configured and
// readable the stored routing keys are used and only resolved against the
// catalog index; otherwise every catalog entry is inspected.
func NewEventMap(cat *catalog.Catalog, opts ...EventMapOption) (*EventMap, error) {
	cfg := &eventMapConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	m := newEventMap(cfg)

	if cfg.cacheFile != "" {
		loaded, err := m.load(cat, cfg.cacheFile)
		switch {
		case err == nil && loaded:
			return m, nil
		case err != nil:
			m.logger.Warn("event map cache unusable, rebuilding",
				"path", cfg.cacheFile,
				"error", err)
			m.reset()
		}
	}

	if err := m.discover(cat, cfg.policy); err != nil {
		return nil, err
	}

	if cfg.cacheFile != "" {
		if err := m.Save(cfg.cacheFile); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NewStaticEventMap maps the given events under their routing keys and aliases.
func NewStaticEventMap(events []contracts.Event, opts ...EventMapOption) (*EventMap, error) {
	cfg := &eventMapConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}
	m := newEventMap(cfg)
	for _, ev := range events {
		if err := m.Register(ev); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Register maps ev's type under its routing key and every renamed-from alias.
func (m *EventMap) Register(ev contracts.Event) error {
	t := reflect.TypeOf(ev)
	if t == nil {
		return ErrNotEvent
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return m.registerType(t)
}

func (m *EventMap) registerType(t reflect.Type) error {
	ev, err := NewEvent(t)
	if err != nil {
		return err
	}
	name := catalog.TypeName(t)
	for _, key := range RoutingKeys(ev) {
		if err := m.set(key, t, name); err != nil {
			return err
		}
	}
	return nil
}

func (m *EventMap) set(key string, t reflect.Type, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.types[key]; ok && existing != t {
		return fmt.Errorf("%w: %q maps to %s and %s", ErrDuplicateRoutingKey, key, m.names[key], name)
	}
	m.types[key] = t
	m.names[key] = name
	return nil
}

func (m *EventMap) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.types = make(map[string]reflect.Type)
	m.names = make(map[string]string)
}

func (m *EventMap) discover(cat *catalog.Catalog, policy *catalog.Policy) error {
	for _, entry := range cat.Entries() {
		if policy != nil && !policy.Includes(entry.Name) {
			continue
		}
		if !IsEventType(entry.Type) {
			continue
		}
		if err := m.registerType(entry.Type); err != nil {
			return fmt.Errorf("%s (%s): %w", entry.Name, entry.Source, err)
		}
	}
	m.logger.Debug("event map discovered", "events", m.Len())
	return nil
}

func (m *EventMap) load(cat *catalog.Catalog, path string) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var stored map[string]string
	if err := jsoncodec.Unmarshal(data, &stored); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	for key, name := range stored {
		entry, ok := cat.Lookup(name)
		if !ok {
			return false, fmt.Errorf("type %s for routing key %q is not in the catalog", name, key)
		}
		if err := m.set(key, entry.Type, name); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Save writes the routing key to type name map to path.
func (m *EventMap) Save(path string) error {
	data, err := jsoncodec.MarshalIndent(m.Routes(), "", "  ")
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("save event map %s: %w", path, err)
	}
	return nil
}

// Get returns the type mapped to routingKey.
func (m *EventMap) Get(routingKey string) (reflect.Type, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.types[routingKey]
	if !ok {
		return nil, &UnknownEventError{RoutingKey: routingKey}
	}
	return t, nil
}

// TypeName returns the fully-qualified type name mapped to routingKey.
func (m *EventMap) TypeName(routingKey string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name, ok := m.names[routingKey]
	if !ok {
		return "", &UnknownEventError{RoutingKey: routingKey}
	}
	return name, nil
}

// Routes returns a copy of the routing key to type name map.
func (m *EventMap) Routes() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(m.names))
	for k, v := range m.names {
		out[k] = v
	}
	return out
}

// RoutingKeys returns the mapped routing keys in sorted order.
func (m *EventMap) RoutingKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.names))
	for k := range m.names {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of mapped routing keys.
func (m *EventMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.types)
}

// Unserialize decrypts protected fields and populates a fresh event of the
// type mapped to routingKey.
func (m *EventMap) Unserialize(routingKey string, fields contracts.Fields) (contracts.Event, error) {
	return m.unserialize(routingKey, fields, m.encrypter)
}

func (m *EventMap) unserialize(routingKey string, fields contracts.Fields, enc contracts.StringEncrypt) (contracts.Event, error) {
	t, err := m.Get(routingKey)
	if err != nil {
		return nil, err
	}
	ev, err := NewEvent(t)
	if err != nil {
		return nil, err
	}

	if secure, ok := ev.(contracts.EncryptedEvent); ok {
		fields, err = DecryptProtected(fields, secure.ProtectedFields(), enc)
		if err != nil {
			return nil, &DecodeError{RoutingKey: routingKey, Err: err}
		}
	}

	if err := ev.FromArray(fields); err != nil {
		return nil, &DecodeError{RoutingKey: routingKey, Err: err}
	}
	return ev, nil
}

// Decode parses a JSON body and unserializes it.
func (m *EventMap) Decode(routingKey string, body []byte) (contracts.Event, error) {
	return m.DecodeWith(routingKey, body, nil)
}

// DecodeWith is Decode with protected fields decrypted by enc. A nil enc uses
// the map's own encrypter.
func (m *EventMap) DecodeWith(routingKey string, body []byte, enc contracts.StringEncrypt) (contracts.Event, error) {
	if _, err := m.Get(routingKey); err != nil {
		return nil, err
	}
	var fields contracts.Fields
	if err := jsoncodec.Unmarshal(body, &fields); err != nil {
		return nil, &DecodeError{RoutingKey: routingKey, Err: fmt.Errorf("%w: %v", ErrMalformedPayload, err)}
	}
	if enc == nil {
		enc = m.encrypter
	}
	return m.unserialize(routingKey, fields, enc)
}

// IsEventType reports whether t (or a pointer to it) is a concrete struct
// implementing contracts.Event.
func IsEventType(t reflect.Type) bool {
	if t == nil {
		return false
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct && reflect.PointerTo(t).Implements(eventInterface)
}

// NewEvent allocates a zero value of t and returns it as an Event without
// running any constructor.
func NewEvent(t reflect.Type) (contracts.Event, error) {
	if !IsEventType(t) {
		return nil, fmt.Errorf("%w: %v", ErrNotEvent, t)
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return reflect.New(t).Interface().(contracts.Event), nil
}

// RoutingKeys returns ev's routing key followed by its renamed-from aliases.
func RoutingKeys(ev contracts.Event) []string {
	keys := []string{ev.EventName()}
	if renamed, ok := ev.(contracts.RenamedEvent); ok {
		for _, old := range renamed.RenamedFrom() {
			if old != "" && old != keys[0] {
				keys = append(keys, old)
			}
		}
	}
	return keys
}
