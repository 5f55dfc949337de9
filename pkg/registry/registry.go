package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pario-ai/relay/pkg/models"
)

var (
	// ErrUnknownModel is returned when a name does not resolve to a registered model.
	ErrUnknownModel = errors.New("unknown model")

	// ErrDuplicateModel is returned by Register in strict mode.
	ErrDuplicateModel = errors.New("model already registered")
)

// Metadata is static, descriptive information about a registered model.
type Metadata struct {
	Provider      string               `json:"provider,omitempty"`
	UpstreamModel string               `json:"upstream_model,omitempty"`
	Pricing       *models.ModelPricing `json:"pricing,omitempty"`
	Labels        map[string]string    `json:"labels,omitempty"`
}

// Entry is a registered model. Entries are never mutated after registration.
type Entry struct {
	Name         string    `json:"name"`
	Invoker      Invoker   `json:"-"`
	Metadata     Metadata  `json:"metadata"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Registry holds the named model entries and the active default.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	active  string
	strict  bool
	now     func() time.Time

	onRegister func(e Entry, replaced bool)
}

// Option configures a Registry.
type Option func(*Registry)

// WithStrict makes Register reject names that are already registered.
func WithStrict(strict bool) Option {
	return func(r *Registry) { r.strict = strict }
}

// WithClock overrides the registration timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// OnRegister sets a hook called after every successful registration.
func OnRegister(fn func(e Entry, replaced bool)) Option {
	return func(r *Registry) { r.onRegister = fn }
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces a model entry.
func (r *Registry) Register(name string, inv Invoker, md ...Metadata) error {
	if name == "" {
		return errors.New("model name cannot be empty")
	}
	if inv == nil {
		return fmt.Errorf("model %q: invoker cannot be nil", name)
	}

	e := Entry{Name: name, Invoker: inv, RegisteredAt: r.now()}
	if len(md) > 0 {
		e.Metadata = md[0]
	}

	r.mu.Lock()
	_, exists := r.entries[name]
	if exists && r.strict {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateModel, name)
	}
	r.entries[name] = e
	hook := r.onRegister
	r.mu.Unlock()

	if hook != nil {
		hook(e, exists)
	}
	return nil
}

// Resolve returns the entry registered under name.
func (r *Registry) Resolve(name string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return e, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// SetActive designates the default model used when a caller names none.
func (r *Registry) SetActive(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	r.active = name
	return nil
}

// Active returns the active model name, if one was set.
func (r *Registry) Active() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active, r.active != ""
}

// Names returns all registered model names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Entries returns all registered entries sorted by name.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered models.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
