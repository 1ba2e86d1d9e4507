package dcb

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// payloadEnvelope is the on-disk shape of an event's payload: a stable
// string discriminator plus the raw payload JSON, per spec §6 and the
// §9 design note ("a registry keyed by a stable string discriminator").
type payloadEnvelope struct {
	Discriminator string          `json:"$type"`
	Data          json.RawMessage `json:"data"`
}

// PayloadRegistry maps discriminators to factories producing a fresh,
// zero-valued pointer to the concrete payload type, and back. It is owned
// by a Config/EventStore instance — there is no ambient, package-level
// registry, per spec §5's "no global mutable state; every operation
// receives the store's configuration explicitly."
type PayloadRegistry struct {
	mu   sync.RWMutex
	byID map[string]func() any
}

// NewPayloadRegistry returns an empty registry. Pass it on Config.Registry
// before constructing an EventStore; a nil Config.Registry gets a fresh
// empty one of its own.
func NewPayloadRegistry() *PayloadRegistry {
	return &PayloadRegistry{byID: make(map[string]func() any)}
}

// Register associates a discriminator with a payload type, identified by
// an instance of the zero value (its runtime type is used to allocate
// fresh values on read). Re-registering the same discriminator with a
// different type is rejected to avoid silently corrupting previously
// written data.
func (r *PayloadRegistry) Register(discriminator string, zeroValue any) error {
	if discriminator == "" {
		return fmt.Errorf("dcb: PayloadRegistry.Register: discriminator must not be empty")
	}
	t := reflect.TypeOf(zeroValue)
	if t == nil {
		return fmt.Errorf("dcb: PayloadRegistry.Register: zeroValue must not be nil")
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byID[discriminator]; ok {
		if reflect.TypeOf(existing()) != reflect.PointerTo(t) {
			return fmt.Errorf("dcb: PayloadRegistry.Register: discriminator %q already registered to a different type", discriminator)
		}
		return nil
	}
	r.byID[discriminator] = func() any {
		return reflect.New(t).Interface()
	}
	return nil
}

// marshalPayload resolves the discriminator registered for v's runtime
// type and encodes the envelope. If v's type was never registered, its Go
// type name is written as the discriminator instead; such a payload reads
// back only if that exact name has itself been registered, otherwise
// unmarshalPayload reports a SerializationError.
func (r *PayloadRegistry) marshalPayload(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &SerializationError{
			EventStoreError: EventStoreError{Op: "marshalPayload", Err: err},
		}
	}
	disc := discriminatorFor(v)
	if t := reflect.TypeOf(v); t != nil {
		if t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		registered := ""
		r.mu.RLock()
		for id, factory := range r.byID {
			if reflect.TypeOf(factory()) == reflect.PointerTo(t) && (registered == "" || id < registered) {
				registered = id
			}
		}
		r.mu.RUnlock()
		if registered != "" {
			disc = registered
		}
	}
	env := payloadEnvelope{
		Discriminator: disc,
		Data:          data,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, &SerializationError{
			EventStoreError: EventStoreError{Op: "marshalPayload", Err: err},
		}
	}
	return raw, nil
}

func discriminatorFor(v any) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return "nil"
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

// unmarshalPayload decodes an envelope and reconstructs the concrete
// payload via the registry. An unrecognized discriminator surfaces as a
// SerializationError (spec §6: "unknown discriminators on read surface
// as a deserialization error, not as a silent null").
func (r *PayloadRegistry) unmarshalPayload(raw json.RawMessage) (any, error) {
	var env payloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &SerializationError{
			EventStoreError: EventStoreError{Op: "unmarshalPayload", Err: err},
		}
	}

	r.mu.RLock()
	factory, ok := r.byID[env.Discriminator]
	r.mu.RUnlock()
	if !ok {
		return nil, &SerializationError{
			EventStoreError: EventStoreError{
				Op:  "unmarshalPayload",
				Err: fmt.Errorf("unregistered payload discriminator %q", env.Discriminator),
			},
			Discriminator: env.Discriminator,
		}
	}

	target := factory()
	if err := json.Unmarshal(env.Data, target); err != nil {
		return nil, &SerializationError{
			EventStoreError: EventStoreError{Op: "unmarshalPayload", Err: err},
			Discriminator:   env.Discriminator,
		}
	}
	return reflect.ValueOf(target).Elem().Interface(), nil
}
