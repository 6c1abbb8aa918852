// Reflection-based cgroup schema derivation from a Go struct type, mirroring
// the teacher's schemaFromType: struct tags feed github.com/invopop/jsonschema,
// and Go field types map to dtype codes.

package schema

import (
	"fmt"
	"reflect"
	"time"

	"github.com/invopop/jsonschema"
)

// CgroupFromStruct derives a CgroupSchema fragment (Columns only — keys and
// blob specs still need to be set by the caller) from a struct type's JSON
// field names and `jsonschema:"..."` tags.
func CgroupFromStruct[T any](name string) (CgroupSchema, error) {
	t := reflect.TypeFor[T]()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return CgroupSchema{}, fmt.Errorf("schema: CgroupFromStruct: type must be a struct or pointer to struct, got %s", t.Kind())
	}

	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	js := r.ReflectFromType(t)

	var cols []ColumnDef
	for pair := js.Properties.Oldest(); pair != nil; pair = pair.Next() {
		fieldName := pair.Key
		dt := DTypeF64
		for i := range t.NumField() {
			f := t.Field(i)
			if jsonFieldName(&f) == fieldName {
				dt = goTypeToDType(f.Type)
				break
			}
		}
		cols = append(cols, ColumnDef{Name: fieldName, DType: dt})
	}
	return CgroupSchema{Name: name, Columns: cols}, nil
}

func jsonFieldName(f *reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" || tag == "-" {
		return f.Name
	}
	for i, c := range tag {
		if c == ',' {
			if i == 0 {
				return f.Name
			}
			return tag[:i]
		}
	}
	return tag
}

func goTypeToDType(t reflect.Type) DType {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == reflect.TypeFor[time.Time]() {
		return DTypeF64 // stored as a temporal key's numeric representation
	}
	switch t.Kind() {
	case reflect.Bool:
		return DTypeBool
	case reflect.Int8:
		return DTypeI8
	case reflect.Uint8:
		return DTypeU8
	case reflect.Int16:
		return DTypeI16
	case reflect.Uint16:
		return DTypeU16
	case reflect.Int32, reflect.Int:
		return DTypeI32
	case reflect.Uint32, reflect.Uint:
		return DTypeU32
	case reflect.Int64:
		return DTypeI64
	case reflect.Uint64:
		return DTypeU64
	case reflect.Float32:
		return DTypeF32
	case reflect.Float64:
		return DTypeF64
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return DTypeO8 // []byte fields are blob candidates
		}
		return DTypeI8
	default:
		return DTypeI8
	}
}
