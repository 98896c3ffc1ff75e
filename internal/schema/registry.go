package schema

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/xtxerr/meterd/internal/errors"
	"github.com/xtxerr/meterd/internal/logging"
)

// Registry holds all known schema versions for all targets and metrics.
//
// Register is linearized behind a write lock and commits all-or-nothing:
// a rejected schema leaves no trace. ResolveFields and ValidateObservation
// are read-only and may run concurrently once a schema is published.
type Registry struct {
	mu      sync.RWMutex
	targets map[string]*Schema
	log     *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		targets: make(map[string]*Schema),
		log:     logging.Component("registry"),
	}
}

// =============================================================================
// Register
// =============================================================================

// Register validates and publishes a schema.
//
// For a previously unseen target the schema is stored as-is. For a known
// target the incoming schema must be append-only compatible: every already
// published version (target versions and each metric's version entries)
// must be repeated with identical contents, and only strictly newer
// versions, new metrics, or new dictionary fields may be added.
//
// Re-registering identical content is a no-op (idempotent).
func (r *Registry) Register(s *Schema) error {
	if err := s.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.targets[s.Target.Name]
	if !ok {
		r.targets[s.Target.Name] = s.clone()
		r.log.Info("schema registered",
			"target", s.Target.Name,
			"metrics", len(s.Metrics),
			"target_versions", len(s.Target.Versions))
		return nil
	}

	// Build the merged successor off to the side; swap in only on success.
	merged, err := mergeSchemas(existing, s)
	if err != nil {
		return err
	}
	if merged.ContentHash() == existing.ContentHash() {
		return nil
	}

	r.targets[s.Target.Name] = merged
	r.log.Info("schema evolved",
		"target", s.Target.Name,
		"metrics", len(merged.Metrics),
		"target_versions", len(merged.Target.Versions))
	return nil
}

// mergeSchemas checks append-only compatibility of next against prev and
// returns the merged schema. Neither input is mutated.
func mergeSchemas(prev, next *Schema) (*Schema, error) {
	merged := next.clone()

	// Target metadata and published versions are immutable.
	if next.Target.Description != prev.Target.Description ||
		next.Target.AuthzScope != prev.Target.AuthzScope {
		return nil, errors.Wrapf(errors.ErrDuplicateVersion,
			"target %q metadata changed", prev.Target.Name)
	}
	if len(next.Target.Versions) < len(prev.Target.Versions) {
		return nil, errors.Wrapf(errors.ErrNonMonotonicVersion,
			"target %q: published versions retracted", prev.Target.Name)
	}
	for i, tv := range prev.Target.Versions {
		got := next.Target.Versions[i]
		if got.Version != tv.Version || !equalStrings(got.Fields, tv.Fields) {
			return nil, errors.NewDuplicateVersion("target "+prev.Target.Name, tv.Version)
		}
	}

	// Fields may be added but never redefined.
	for name, prevSpec := range prev.Fields {
		nextSpec, ok := next.Fields[name]
		if !ok {
			merged.Fields[name] = prevSpec
			continue
		}
		if nextSpec.Type != prevSpec.Type {
			return nil, fmt.Errorf("field %q redefined from %s to %s: %w",
				name, prevSpec.Type, nextSpec.Type, errors.ErrDuplicateField)
		}
	}

	// Metrics may be added; published metric versions are immutable.
	nextByName := make(map[string]*MetricSpec, len(merged.Metrics))
	for i := range merged.Metrics {
		nextByName[merged.Metrics[i].Name] = &merged.Metrics[i]
	}
	for i := range prev.Metrics {
		pm := &prev.Metrics[i]
		nm, ok := nextByName[pm.Name]
		if !ok {
			// Absent from the new document: carry the published metric forward.
			merged.Metrics = append(merged.Metrics, *cloneMetric(pm))
			continue
		}
		if nm.Datum != pm.Datum || nm.Units != pm.Units {
			return nil, errors.Wrapf(errors.ErrDuplicateVersion,
				"metric %q datum/units changed", pm.Name)
		}
		if len(nm.Versions) < len(pm.Versions) {
			return nil, errors.Wrapf(errors.ErrNonMonotonicVersion,
				"metric %q: published versions retracted", pm.Name)
		}
		for j, ve := range pm.Versions {
			got := nm.Versions[j]
			if got.AddedIn != ve.AddedIn || !equalStrings(got.Fields, ve.Fields) {
				return nil, errors.NewDuplicateVersion("metric "+pm.Name, ve.AddedIn)
			}
		}
	}

	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// =============================================================================
// Resolve
// =============================================================================

// ResolveFields returns the ordered field set visible for a timeseries as
// of the given version: the target's identity fields (from the greatest
// target version at or below asOf) followed by the metric's cumulative
// field introductions up to asOf.
func (r *Registry) ResolveFields(target, metric string, asOf uint32) ([]FieldSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveFieldsLocked(target, metric, asOf)
}

func (r *Registry) resolveFieldsLocked(target, metric string, asOf uint32) ([]FieldSpec, error) {
	s, ok := r.targets[target]
	if !ok {
		return nil, fmt.Errorf("target %q: %w", target, errors.ErrUnknownTarget)
	}
	m := s.metric(metric)
	if m == nil {
		return nil, fmt.Errorf("target %q metric %q: %w", target, metric, errors.ErrUnknownMetric)
	}

	// Targets restate their full field list per version; take the newest
	// at or below asOf.
	var tv *TargetVersion
	for i := range s.Target.Versions {
		if s.Target.Versions[i].Version <= asOf {
			tv = &s.Target.Versions[i]
		}
	}
	if tv == nil {
		return nil, fmt.Errorf("target %q as of version %d: %w", target, asOf, errors.ErrUnknownVersion)
	}
	if asOf < m.Versions[0].AddedIn {
		return nil, fmt.Errorf("metric %q as of version %d (added in %d): %w",
			metric, asOf, m.Versions[0].AddedIn, errors.ErrUnknownVersion)
	}

	var out []FieldSpec
	for _, f := range tv.Fields {
		out = append(out, s.Fields[f])
	}
	for _, ve := range m.Versions {
		if ve.AddedIn > asOf {
			break
		}
		for _, f := range ve.Fields {
			out = append(out, s.Fields[f])
		}
	}
	return out, nil
}

// metric returns the named metric spec, or nil.
func (s *Schema) metric(name string) *MetricSpec {
	for i := range s.Metrics {
		if s.Metrics[i].Name == name {
			return &s.Metrics[i]
		}
	}
	return nil
}

// Metric returns the published spec for one metric.
func (r *Registry) Metric(target, metric string) (MetricSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.targets[target]
	if !ok {
		return MetricSpec{}, fmt.Errorf("target %q: %w", target, errors.ErrUnknownTarget)
	}
	m := s.metric(metric)
	if m == nil {
		return MetricSpec{}, fmt.Errorf("target %q metric %q: %w", target, metric, errors.ErrUnknownMetric)
	}
	return *cloneMetric(m), nil
}

// Targets returns the names of all registered targets.
func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.targets))
	for name := range r.targets {
		out = append(out, name)
	}
	return out
}

// Schema returns a copy of the published schema for a target.
func (r *Registry) Schema(target string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.targets[target]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// =============================================================================
// Validate Observation
// =============================================================================

// ValidateObservation checks an observation's field-value map against the
// schema version it claims: the key set must equal the resolved field set
// exactly, and each value's runtime type must match the declared type.
func (r *Registry) ValidateObservation(target, metric string, version uint32, values map[string]FieldValue) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fields, err := r.resolveFieldsLocked(target, metric, version)
	if err != nil {
		return err
	}

	for _, fs := range fields {
		v, ok := values[fs.Name]
		if !ok {
			return fmt.Errorf("field %q: %w", fs.Name, errors.ErrMissingField)
		}
		if v.Type != fs.Type {
			return errors.NewTypeMismatch(fs.Name, fs.Type.String(), v.Type.String())
		}
	}
	if len(values) != len(fields) {
		declared := make(map[string]struct{}, len(fields))
		for _, fs := range fields {
			declared[fs.Name] = struct{}{}
		}
		for name := range values {
			if _, ok := declared[name]; !ok {
				return fmt.Errorf("field %q: %w", name, errors.ErrUnexpectedField)
			}
		}
	}
	return nil
}

// =============================================================================
// Cloning
// =============================================================================

func (s *Schema) clone() *Schema {
	out := &Schema{
		Target: TargetSpec{
			Name:        s.Target.Name,
			Description: s.Target.Description,
			AuthzScope:  s.Target.AuthzScope,
			Versions:    make([]TargetVersion, len(s.Target.Versions)),
		},
		Metrics: make([]MetricSpec, 0, len(s.Metrics)),
		Fields:  make(map[string]FieldSpec, len(s.Fields)),
	}
	for i, tv := range s.Target.Versions {
		out.Target.Versions[i] = TargetVersion{
			Version: tv.Version,
			Fields:  append([]string(nil), tv.Fields...),
		}
	}
	for i := range s.Metrics {
		out.Metrics = append(out.Metrics, *cloneMetric(&s.Metrics[i]))
	}
	for name, fs := range s.Fields {
		out.Fields[name] = fs
	}
	return out
}

func cloneMetric(m *MetricSpec) *MetricSpec {
	out := &MetricSpec{
		Name:        m.Name,
		Description: m.Description,
		Units:       m.Units,
		Datum:       m.Datum,
		Versions:    make([]VersionEntry, len(m.Versions)),
	}
	for i, ve := range m.Versions {
		out.Versions[i] = VersionEntry{
			AddedIn: ve.AddedIn,
			Fields:  append([]string(nil), ve.Fields...),
		}
	}
	return out
}
