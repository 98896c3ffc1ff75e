package schema

import (
	"fmt"
	"net/netip"
	"strconv"

	"github.com/xtxerr/meterd/internal/errors"
)

// FieldType indicates the value type of a dimensional field.
// The set is closed: schema documents may only reference these names.
type FieldType int

const (
	FieldTypeUUID FieldType = iota
	FieldTypeString
	FieldTypeI32
	FieldTypeU32
	FieldTypeI64
	FieldTypeU64
	FieldTypeBool
	FieldTypeIPAddr
)

// String returns the canonical type name used in schema documents.
func (t FieldType) String() string {
	switch t {
	case FieldTypeUUID:
		return "uuid"
	case FieldTypeString:
		return "string"
	case FieldTypeI32:
		return "i32"
	case FieldTypeU32:
		return "u32"
	case FieldTypeI64:
		return "i64"
	case FieldTypeU64:
		return "u64"
	case FieldTypeBool:
		return "bool"
	case FieldTypeIPAddr:
		return "ipaddr"
	default:
		return "unknown"
	}
}

// ResolveFieldType maps a type name from a schema document to its FieldType.
// Total over the closed enumeration; anything else fails with ErrUnknownType.
func ResolveFieldType(name string) (FieldType, error) {
	switch name {
	case "uuid":
		return FieldTypeUUID, nil
	case "string":
		return FieldTypeString, nil
	case "i32":
		return FieldTypeI32, nil
	case "u32":
		return FieldTypeU32, nil
	case "i64":
		return FieldTypeI64, nil
	case "u64":
		return FieldTypeU64, nil
	case "bool":
		return FieldTypeBool, nil
	case "ipaddr":
		return FieldTypeIPAddr, nil
	default:
		return 0, fmt.Errorf("field type %q: %w", name, errors.ErrUnknownType)
	}
}

// DatumType indicates the value shape of a metric's measurements.
// It determines the storage row layout.
type DatumType int

const (
	// Point-in-time scalar measurements.
	DatumI64 DatumType = iota
	DatumF64
	// Monotonically increasing counters.
	DatumCounterU64
	DatumCounterF64
	// Binned distributions with streaming quantile markers.
	DatumHistogramI64
	DatumHistogramF64
)

// String returns the canonical datum type name used in schema documents.
func (d DatumType) String() string {
	switch d {
	case DatumI64:
		return "i64"
	case DatumF64:
		return "f64"
	case DatumCounterU64:
		return "counter_u64"
	case DatumCounterF64:
		return "counter_f64"
	case DatumHistogramI64:
		return "histogram_i64"
	case DatumHistogramF64:
		return "histogram_f64"
	default:
		return "unknown"
	}
}

// IsHistogram reports whether measurements of this type fold into the
// histogram engine rather than the scalar aggregation path.
func (d DatumType) IsHistogram() bool {
	return d == DatumHistogramI64 || d == DatumHistogramF64
}

// IsCumulative reports whether the datum is a monotonic counter.
func (d DatumType) IsCumulative() bool {
	return d == DatumCounterU64 || d == DatumCounterF64
}

// ResolveDatumType maps a datum type name to its DatumType.
func ResolveDatumType(name string) (DatumType, error) {
	switch name {
	case "i64":
		return DatumI64, nil
	case "f64":
		return DatumF64, nil
	case "counter_u64":
		return DatumCounterU64, nil
	case "counter_f64":
		return DatumCounterF64, nil
	case "histogram_i64":
		return DatumHistogramI64, nil
	case "histogram_f64":
		return DatumHistogramF64, nil
	default:
		return 0, fmt.Errorf("datum type %q: %w", name, errors.ErrUnknownType)
	}
}

// =============================================================================
// Field Values
// =============================================================================

// FieldValue is one runtime field value attached to an observation,
// tagged with the FieldType it was constructed as. Validation compares
// the tag against the declared type; there is no coercion.
type FieldValue struct {
	Type FieldType
	str  string
	i64  int64
	u64  uint64
	b    bool
	ip   netip.Addr
}

// UUIDValue builds a uuid field value from its canonical string form.
func UUIDValue(s string) FieldValue {
	return FieldValue{Type: FieldTypeUUID, str: s}
}

// StringValue builds a string field value.
func StringValue(s string) FieldValue {
	return FieldValue{Type: FieldTypeString, str: s}
}

// I32Value builds an i32 field value.
func I32Value(v int32) FieldValue {
	return FieldValue{Type: FieldTypeI32, i64: int64(v)}
}

// U32Value builds a u32 field value.
func U32Value(v uint32) FieldValue {
	return FieldValue{Type: FieldTypeU32, u64: uint64(v)}
}

// I64Value builds an i64 field value.
func I64Value(v int64) FieldValue {
	return FieldValue{Type: FieldTypeI64, i64: v}
}

// U64Value builds a u64 field value.
func U64Value(v uint64) FieldValue {
	return FieldValue{Type: FieldTypeU64, u64: v}
}

// BoolValue builds a bool field value.
func BoolValue(v bool) FieldValue {
	return FieldValue{Type: FieldTypeBool, b: v}
}

// IPAddrValue builds an ipaddr field value.
func IPAddrValue(a netip.Addr) FieldValue {
	return FieldValue{Type: FieldTypeIPAddr, ip: a}
}

// Encode returns the canonical string form used for timeseries key hashing.
// The encoding is stable across processes and restarts.
func (v FieldValue) Encode() string {
	switch v.Type {
	case FieldTypeUUID, FieldTypeString:
		return v.str
	case FieldTypeI32, FieldTypeI64:
		return strconv.FormatInt(v.i64, 10)
	case FieldTypeU32, FieldTypeU64:
		return strconv.FormatUint(v.u64, 10)
	case FieldTypeBool:
		return strconv.FormatBool(v.b)
	case FieldTypeIPAddr:
		return v.ip.String()
	default:
		return ""
	}
}
