package loader

import (
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/meterd/internal/errors"
	"github.com/xtxerr/meterd/internal/schema"
)

// =============================================================================
// Schema Documents
// =============================================================================

// SchemaDoc is the YAML representation of one target's schema: the target,
// its metrics, and the shared field dictionary.
//
// Example:
//
//	target:
//	  name: sled
//	  description: A compute sled
//	  authz_scope: fleet
//	  versions:
//	    - version: 1
//	      fields: [sled_id, serial]
//	fields:
//	  sled_id: { type: uuid, description: ID of the sled }
//	  serial:  { type: string, description: Board serial number }
//	  probe:   { type: string, description: Originating probe }
//	metrics:
//	  - name: io_latency
//	    description: Per-request I/O latency
//	    units: nanoseconds
//	    datum_type: histogram_f64
//	    versions:
//	      - added_in: 1
//	        fields: [probe]
type SchemaDoc struct {
	Target  TargetDoc           `yaml:"target"`
	Fields  map[string]FieldDoc `yaml:"fields"`
	Metrics []MetricDoc         `yaml:"metrics"`
}

// TargetDoc declares the measured entity.
type TargetDoc struct {
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	AuthzScope  string             `yaml:"authz_scope"`
	Versions    []TargetVersionDoc `yaml:"versions"`
}

// TargetVersionDoc restates the target's full field list per version.
type TargetVersionDoc struct {
	Version uint32   `yaml:"version"`
	Fields  []string `yaml:"fields"`
}

// FieldDoc declares one dictionary field.
type FieldDoc struct {
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
}

// MetricDoc declares one metric and its version entries.
type MetricDoc struct {
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	Units       string             `yaml:"units"`
	DatumType   string             `yaml:"datum_type"`
	Versions    []MetricVersionDoc `yaml:"versions"`
}

// MetricVersionDoc lists the fields introduced at one version.
type MetricVersionDoc struct {
	AddedIn uint32   `yaml:"added_in"`
	Fields  []string `yaml:"fields"`
}

// =============================================================================
// Loading
// =============================================================================

// LoadSchemaFile parses one schema document into a registerable Schema.
// Documents violating the closed type enumerations fail here; structural
// invariants (version monotonicity, field resolvability) are enforced by
// the registry on registration.
func LoadSchemaFile(path string) (*schema.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read schema document")
	}

	var doc SchemaDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewSchemaDocError(path, err)
	}

	s, err := doc.ToSchema()
	if err != nil {
		return nil, errors.Wrapf(err, "schema document %s", path)
	}
	return s, nil
}

// LoadSchemaDir loads every *.yaml / *.yml schema document in a directory,
// sorted by file name for deterministic registration order.
func LoadSchemaDir(dir string) ([]*schema.Schema, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "read schema directory")
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	schemas := make([]*schema.Schema, 0, len(paths))
	for _, p := range paths {
		s, err := LoadSchemaFile(p)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, s)
	}
	return schemas, nil
}

// ToSchema converts the document to the registry's representation,
// resolving all type names against the closed enumerations.
func (d *SchemaDoc) ToSchema() (*schema.Schema, error) {
	s := &schema.Schema{
		Target: schema.TargetSpec{
			Name:        d.Target.Name,
			Description: d.Target.Description,
			AuthzScope:  d.Target.AuthzScope,
		},
		Fields: make(map[string]schema.FieldSpec, len(d.Fields)),
	}

	for _, tv := range d.Target.Versions {
		s.Target.Versions = append(s.Target.Versions, schema.TargetVersion{
			Version: tv.Version,
			Fields:  append([]string(nil), tv.Fields...),
		})
	}

	for name, fd := range d.Fields {
		ft, err := schema.ResolveFieldType(fd.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "field %q", name)
		}
		s.Fields[name] = schema.FieldSpec{
			Name:        name,
			Type:        ft,
			Description: fd.Description,
		}
	}

	for _, md := range d.Metrics {
		dt, err := schema.ResolveDatumType(md.DatumType)
		if err != nil {
			return nil, errors.Wrapf(err, "metric %q", md.Name)
		}
		ms := schema.MetricSpec{
			Name:        md.Name,
			Description: md.Description,
			Units:       md.Units,
			Datum:       dt,
		}
		for _, ve := range md.Versions {
			ms.Versions = append(ms.Versions, schema.VersionEntry{
				AddedIn: ve.AddedIn,
				Fields:  append([]string(nil), ve.Fields...),
			})
		}
		s.Metrics = append(s.Metrics, ms)
	}

	return s, nil
}
