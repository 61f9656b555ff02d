package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// HandlerFunc handles one invocation with already-decoded arguments.
type HandlerFunc[A any] func(ctx context.Context, args A) ([]ContentBlock, error)

// Capability pairs a descriptor with its untyped handler. Build values with
// New rather than by hand so the input schema stays in sync with the
// argument type.
type Capability struct {
	Descriptor Descriptor
	handler    func(ctx context.Context, raw json.RawMessage) ([]ContentBlock, error)
	validator  *argumentValidator
}

// Option configures New.
type Option func(*config)

type config struct {
	description  string
	validateArgs bool
}

// WithDescription sets the human-readable description used in listings.
func WithDescription(desc string) Option {
	return func(c *config) { c.description = desc }
}

// WithValidation enables argument validation against the reflected input
// schema before the handler runs. Invalid arguments become a capability
// failure, never a handler panic.
func WithValidation() Option {
	return func(c *config) { c.validateArgs = true }
}

// New builds a capability from a typed handler. The input schema in the
// descriptor is reflected from A's struct tags.
func New[A any](name string, fn HandlerFunc[A], opts ...Option) Capability {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}

	schema := reflectInputSchema[A]()
	desc := Descriptor{
		Name:        name,
		Description: cfg.description,
		InputSchema: schema,
	}

	var validator *argumentValidator
	if cfg.validateArgs {
		validator = newArgumentValidator(name, schema)
	}

	handler := func(ctx context.Context, raw json.RawMessage) ([]ContentBlock, error) {
		var a A
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &a); err != nil {
				return nil, fmt.Errorf("invalid arguments for %q: %w", name, err)
			}
		}
		return fn(ctx, a)
	}

	return Capability{Descriptor: desc, handler: handler, validator: validator}
}

// StaticProvider serves a fixed capability set. The zero value is usable.
type StaticProvider struct {
	mu   sync.RWMutex
	caps map[string]Capability
}

// NewStaticProvider builds a provider over the given capabilities.
func NewStaticProvider(caps ...Capability) *StaticProvider {
	p := &StaticProvider{}
	for _, c := range caps {
		p.Register(c)
	}
	return p
}

// Register adds or replaces a capability by name.
func (p *StaticProvider) Register(c Capability) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.caps == nil {
		p.caps = make(map[string]Capability)
	}
	p.caps[c.Descriptor.Name] = c
}

// ListCapabilities implements Provider. Descriptors come back in a stable
// name order.
func (p *StaticProvider) ListCapabilities(ctx context.Context) ([]Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Descriptor, 0, len(p.caps))
	for _, c := range p.caps {
		out = append(out, c.Descriptor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Invoke implements Provider.
func (p *StaticProvider) Invoke(ctx context.Context, name string, args json.RawMessage) ([]ContentBlock, error) {
	p.mu.RLock()
	c, ok := p.caps[name]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if c.validator != nil {
		if err := c.validator.validate(args); err != nil {
			return nil, err
		}
	}

	return c.handler(ctx, args)
}

var _ Provider = (*StaticProvider)(nil)
