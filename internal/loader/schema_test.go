package loader

import (
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/xtxerr/meterd/internal/errors"
	"github.com/xtxerr/meterd/internal/schema"
)

const sledDoc = `
target:
  name: sled
  description: A compute sled
  authz_scope: fleet
  versions:
    - version: 1
      fields: [sled_id, serial]
fields:
  sled_id:
    type: uuid
    description: ID of the sled
  serial:
    type: string
    description: Board serial number
  disk_id:
    type: uuid
    description: ID of the disk
metrics:
  - name: io_latency
    description: Per-request I/O latency
    units: nanoseconds
    datum_type: histogram_f64
    versions:
      - added_in: 1
        fields: [disk_id]
`

func TestLoadSchemaFile(t *testing.T) {
	path := writeFile(t, "sled.yaml", sledDoc)

	s, err := LoadSchemaFile(path)
	if err != nil {
		t.Fatalf("LoadSchemaFile: %v", err)
	}

	if s.Target.Name != "sled" || s.Target.AuthzScope != "fleet" {
		t.Errorf("target parsed wrong: %+v", s.Target)
	}
	if len(s.Target.Versions) != 1 || len(s.Target.Versions[0].Fields) != 2 {
		t.Errorf("target versions parsed wrong: %+v", s.Target.Versions)
	}
	if len(s.Fields) != 3 {
		t.Errorf("expected 3 dictionary fields, got %d", len(s.Fields))
	}
	if s.Fields["sled_id"].Type != schema.FieldTypeUUID {
		t.Errorf("sled_id type = %v", s.Fields["sled_id"].Type)
	}
	if len(s.Metrics) != 1 {
		t.Fatalf("expected 1 metric, got %d", len(s.Metrics))
	}
	m := s.Metrics[0]
	if m.Name != "io_latency" || m.Datum != schema.DatumHistogramF64 || m.Units != "nanoseconds" {
		t.Errorf("metric parsed wrong: %+v", m)
	}

	// The parsed schema must register cleanly.
	reg := schema.NewRegistry()
	if err := reg.Register(s); err != nil {
		t.Errorf("parsed schema failed registration: %v", err)
	}
}

func TestLoadSchemaFile_UnknownFieldType(t *testing.T) {
	path := writeFile(t, "bad.yaml", `
target:
  name: sled
  versions:
    - version: 1
      fields: [x]
fields:
  x:
    type: float128
`)
	if _, err := LoadSchemaFile(path); !apperrors.Is(err, apperrors.ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}

func TestLoadSchemaFile_UnknownDatumType(t *testing.T) {
	path := writeFile(t, "bad.yaml", `
target:
  name: sled
  versions:
    - version: 1
metrics:
  - name: m
    datum_type: gauge
    versions:
      - added_in: 1
`)
	if _, err := LoadSchemaFile(path); !apperrors.Is(err, apperrors.ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}

func TestLoadSchemaFile_MalformedYAML(t *testing.T) {
	path := writeFile(t, "bad.yaml", "target: [not: a: mapping\n")
	if _, err := LoadSchemaFile(path); !apperrors.Is(err, apperrors.ErrInvalidSchema) {
		t.Errorf("expected ErrInvalidSchema, got %v", err)
	}
}

func TestLoadSchemaDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"b_switch.yaml": `
target:
  name: switch
  versions:
    - version: 1
`,
		"a_sled.yml": sledDoc,
		"notes.txt":  "not a schema",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	schemas, err := LoadSchemaDir(dir)
	if err != nil {
		t.Fatalf("LoadSchemaDir: %v", err)
	}
	if len(schemas) != 2 {
		t.Fatalf("expected 2 schemas, got %d", len(schemas))
	}
	// Sorted by file name for deterministic registration order.
	if schemas[0].Target.Name != "sled" || schemas[1].Target.Name != "switch" {
		t.Errorf("order wrong: %q, %q", schemas[0].Target.Name, schemas[1].Target.Name)
	}
}
