// Copyright 2026 Conductor OSS
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
// the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package transmute

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Mode controls how the registry treats a second claim on a capability pair.
type Mode int

const (
	// ModePriority accepts every claim and orders candidates by priority.
	ModePriority Mode = iota
	// ModeFirstWins rejects a claim on a pair already held by a plugin of
	// strictly higher priority.
	ModeFirstWins
)

func (m Mode) String() string {
	if m == ModeFirstWins {
		return "first-wins"
	}
	return "priority"
}

// ParseMode accepts "priority" and "first-wins".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "priority":
		return ModePriority, nil
	case "first-wins", "first_wins":
		return ModeFirstWins, nil
	}
	return ModePriority, fmt.Errorf("unknown registry mode %q", s)
}

type registeredPlugin struct {
	desc *Descriptor
	seq  uint64
}

// catalog is one complete generation of the registry. Reload swaps whole
// catalogs; a catalog is only mutated under the registry write lock.
type catalog struct {
	byPair map[Capability][]registeredPlugin
	byName map[string]registeredPlugin
	seq    uint64
}

func newCatalog() *catalog {
	return &catalog{
		byPair: make(map[Capability][]registeredPlugin),
		byName: make(map[string]registeredPlugin),
	}
}

func (c *catalog) add(d *Descriptor, mode Mode) error {
	if d == nil {
		return pluginLoad("", "nil descriptor", nil)
	}
	if _, dup := c.byName[d.Name()]; dup {
		return pluginLoad(d.Name(), "plugin already registered", nil)
	}
	caps := d.meta.Capabilities
	if mode == ModeFirstWins {
		for _, cp := range caps {
			list := c.byPair[cp]
			if len(list) > 0 && list[0].desc.Priority() > d.Priority() {
				return pluginLoad(d.Name(),
					fmt.Sprintf("pair %s already claimed by %q with higher priority %d", cp, list[0].desc.Name(), list[0].desc.Priority()), nil)
			}
		}
	}

	c.seq++
	rp := registeredPlugin{desc: d, seq: c.seq}
	c.byName[d.Name()] = rp
	for _, cp := range caps {
		list := append(c.byPair[cp], rp)
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].desc.Priority() != list[j].desc.Priority() {
				return list[i].desc.Priority() > list[j].desc.Priority()
			}
			return list[i].seq < list[j].seq
		})
		c.byPair[cp] = list
	}
	return nil
}

func (c *catalog) remove(name string) bool {
	rp, ok := c.byName[name]
	if !ok {
		return false
	}
	delete(c.byName, name)
	for _, cp := range rp.desc.meta.Capabilities {
		list := c.byPair[cp]
		kept := list[:0:0]
		for _, e := range list {
			if e.desc.Name() != name {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(c.byPair, cp)
		} else {
			c.byPair[cp] = kept
		}
	}
	return true
}

// Registry maps capability pairs to ordered plugin candidates. Resolution
// is deterministic for a given registration sequence.
type Registry struct {
	mu     sync.RWMutex
	cat    *catalog
	mode   Mode
	logger *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMode sets the registration mode.
func WithMode(m Mode) RegistryOption {
	return func(r *Registry) {
		r.mode = m
	}
}

// WithRegistryLogger sets the logger used for registration events.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		cat:    newCatalog(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Mode returns the configured mode.
func (r *Registry) Mode() Mode {
	return r.mode
}

// Register adds d under every pair it declares. Registration is all or
// nothing: on error the registry is unchanged.
func (r *Registry) Register(d *Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.cat.add(d, r.mode); err != nil {
		return err
	}
	r.logger.Debug("plugin registered", "plugin", d.Name(), "priority", d.Priority(), "capabilities", len(d.meta.Capabilities))
	return nil
}

// RegisterAll registers each descriptor in order and returns the errors of
// the ones that were refused. Refusals do not stop the batch.
func (r *Registry) RegisterAll(descs []*Descriptor) []error {
	var errs []error
	for _, d := range descs {
		if err := r.Register(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Resolve returns the head candidate for the pair. Both formats are
// normalized first.
func (r *Registry) Resolve(from, to Format) (*Descriptor, error) {
	from, to = NormalizeFormat(string(from)), NormalizeFormat(string(to))
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.cat.byPair[Capability{From: from, To: to}]
	if len(list) == 0 {
		return nil, unsupportedPair(from, to)
	}
	return list[0].desc, nil
}

// Candidates returns the ordered candidate list for the pair.
func (r *Registry) Candidates(from, to Format) []*Descriptor {
	from, to = NormalizeFormat(string(from)), NormalizeFormat(string(to))
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.cat.byPair[Capability{From: from, To: to}]
	out := make([]*Descriptor, len(list))
	for i, e := range list {
		out[i] = e.desc
	}
	return out
}

// Lookup finds a registered plugin by name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rp, ok := r.cat.byName[name]
	return rp.desc, ok
}

// Unregister removes every entry contributed by the named plugin.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ok := r.cat.remove(name)
	if ok {
		r.logger.Info("plugin unregistered", "plugin", name)
	}
	return ok
}

// Replace builds a fresh catalog from descs and swaps it in under the write
// lock. If any descriptor is refused the current catalog is kept.
func (r *Registry) Replace(descs []*Descriptor) error {
	next := newCatalog()
	for _, d := range descs {
		if err := next.add(d, r.mode); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.cat = next
	r.mu.Unlock()
	r.logger.Info("plugin catalog replaced", "plugins", len(descs))
	return nil
}

// ReplaceAll builds a fresh catalog with the same rule as RegisterAll: each
// refused descriptor is skipped and its error returned, the rest are kept.
// The new catalog is swapped in once, under the write lock.
func (r *Registry) ReplaceAll(descs []*Descriptor) []error {
	next := newCatalog()
	var errs []error
	for _, d := range descs {
		if err := next.add(d, r.mode); err != nil {
			errs = append(errs, err)
		}
	}
	r.mu.Lock()
	r.cat = next
	r.mu.Unlock()
	r.logger.Info("plugin catalog replaced", "plugins", len(next.byName), "refused", len(errs))
	return errs
}

// Plugins lists the registered plugins ordered by name.
func (r *Registry) Plugins() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.cat.byName))
	for _, rp := range r.cat.byName {
		out = append(out, rp.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Capabilities lists every pair that has at least one candidate.
func (r *Registry) Capabilities() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Capability, 0, len(r.cat.byPair))
	for cp := range r.cat.byPair {
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cat.byName)
}
