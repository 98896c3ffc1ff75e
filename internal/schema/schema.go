// Package schema defines versioned telemetry schemas and the registry
// that governs their evolution.
//
// A Schema is the unit of registration: one target (the entity being
// measured), its metrics, and a shared field dictionary. Schemas are
// immutable once published; evolution is append-only. A target restates
// its complete field list per version, while a metric only lists the
// fields each version introduces - resolving a metric's fields at
// version N unions everything introduced at or before N.
package schema

import (
	"fmt"

	"github.com/xtxerr/meterd/internal/errors"
	"github.com/xtxerr/meterd/internal/series"
)

// FieldSpec declares one dimensional field: a name unique within its
// target+metric namespace, a value type, and a human description.
// Created once at schema-authoring time; never mutated.
type FieldSpec struct {
	Name        string
	Type        FieldType
	Description string
}

// TargetVersion is one version of a target's identity field set.
// Unlike metric versions, each entry restates the full active list.
type TargetVersion struct {
	Version uint32
	Fields  []string
}

// TargetSpec declares the entity being measured.
type TargetSpec struct {
	Name        string
	Description string
	// AuthzScope is an opaque authorization tag carried through to the
	// store; the core never interprets it.
	AuthzScope string
	Versions   []TargetVersion
}

// VersionEntry is one step in a metric's append-only evolution:
// the fields introduced at that version.
type VersionEntry struct {
	AddedIn uint32
	Fields  []string
}

// MetricSpec declares one measurement kind associated with a target.
type MetricSpec struct {
	Name        string
	Description string
	Units       string
	Datum       DatumType
	Versions    []VersionEntry
}

// Schema is the composite of a target and all its metrics, validated
// as a whole by the registry.
type Schema struct {
	Target  TargetSpec
	Metrics []MetricSpec
	// Fields is the shared field dictionary. Every field name referenced
	// by a target or metric version must resolve here.
	Fields map[string]FieldSpec
}

// =============================================================================
// Validation
// =============================================================================

// Validate checks a schema's internal consistency before registration:
// version monotonicity from 1, field resolvability, and duplicate-free
// field unions for every (target version, metric version) pair in use.
func (s *Schema) Validate() error {
	if s.Target.Name == "" {
		return errors.Wrap(errors.ErrInvalidSchema, "target name is empty")
	}
	if len(s.Target.Versions) == 0 {
		return errors.Wrapf(errors.ErrInvalidSchema, "target %q has no versions", s.Target.Name)
	}

	if err := checkMonotonic(s.Target.Name, targetVersionNumbers(s.Target.Versions)); err != nil {
		return err
	}
	for _, tv := range s.Target.Versions {
		for _, f := range tv.Fields {
			if _, ok := s.Fields[f]; !ok {
				return errors.NewUnknownField(s.Target.Name, "", f)
			}
		}
	}

	seenMetrics := make(map[string]struct{}, len(s.Metrics))
	for i := range s.Metrics {
		m := &s.Metrics[i]
		if m.Name == "" {
			return errors.Wrapf(errors.ErrInvalidSchema, "target %q: metric with empty name", s.Target.Name)
		}
		if _, dup := seenMetrics[m.Name]; dup {
			return errors.Wrapf(errors.ErrInvalidSchema, "target %q: metric %q declared twice", s.Target.Name, m.Name)
		}
		seenMetrics[m.Name] = struct{}{}

		if len(m.Versions) == 0 {
			return errors.Wrapf(errors.ErrInvalidSchema, "metric %q has no versions", m.Name)
		}
		if err := checkMonotonic(s.Target.Name+"/"+m.Name, metricVersionNumbers(m.Versions)); err != nil {
			return err
		}
		for _, ve := range m.Versions {
			for _, f := range ve.Fields {
				if _, ok := s.Fields[f]; !ok {
					return errors.NewUnknownField(s.Target.Name, m.Name, f)
				}
			}
		}

		// The union of the newest target version's fields and the metric's
		// cumulative fields must be duplicate-free.
		for _, tv := range s.Target.Versions {
			union := make(map[string]struct{}, len(tv.Fields))
			for _, f := range tv.Fields {
				if _, dup := union[f]; dup {
					return fmt.Errorf("target %q version %d field %q: %w",
						s.Target.Name, tv.Version, f, errors.ErrDuplicateField)
				}
				union[f] = struct{}{}
			}
			for _, ve := range m.Versions {
				for _, f := range ve.Fields {
					if _, dup := union[f]; dup {
						return fmt.Errorf("metric %q version %d field %q: %w",
							m.Name, ve.AddedIn, f, errors.ErrDuplicateField)
					}
					union[f] = struct{}{}
				}
			}
		}
	}

	for name, fs := range s.Fields {
		if fs.Name != name {
			return errors.Wrapf(errors.ErrInvalidSchema,
				"field dictionary key %q does not match spec name %q", name, fs.Name)
		}
	}

	return nil
}

// checkMonotonic verifies versions increase strictly from 1.
func checkMonotonic(scope string, versions []uint32) error {
	want := uint32(1)
	for _, v := range versions {
		if v != want {
			return errors.NewNonMonotonicVersion(scope, v, want)
		}
		want++
	}
	return nil
}

func targetVersionNumbers(vs []TargetVersion) []uint32 {
	out := make([]uint32, len(vs))
	for i, v := range vs {
		out[i] = v.Version
	}
	return out
}

func metricVersionNumbers(vs []VersionEntry) []uint32 {
	out := make([]uint32, len(vs))
	for i, v := range vs {
		out[i] = v.AddedIn
	}
	return out
}

// =============================================================================
// Content Hashing
// =============================================================================

// ContentHash returns a deterministic hash of the entire schema.
// Used by the metastore to short-circuit no-op reloads.
func (s *Schema) ContentHash() uint64 {
	b := series.NewHashBuilder().
		String(s.Target.Name).
		String(s.Target.Description).
		String(s.Target.AuthzScope).
		Int(len(s.Target.Versions))
	for _, tv := range s.Target.Versions {
		b.Uint32(tv.Version).Strings(tv.Fields)
	}

	b.Int(len(s.Metrics))
	for i := range s.Metrics {
		m := &s.Metrics[i]
		b.String(m.Name).
			String(m.Description).
			String(m.Units).
			String(m.Datum.String()).
			Int(len(m.Versions))
		for _, ve := range m.Versions {
			b.Uint32(ve.AddedIn).Strings(ve.Fields)
		}
	}

	// Sorted by StringMap discipline: flatten the dictionary to name->type.
	dict := make(map[string]string, len(s.Fields))
	for name, fs := range s.Fields {
		dict[name] = fs.Type.String() + "\x00" + fs.Description
	}
	b.StringMap(dict)

	return b.Build()
}

// equalStrings reports element-wise equality of two field lists.
// Order matters: a reordered field list is a different version content.
func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
