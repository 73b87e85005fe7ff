package types

import (
	"fmt"
	"reflect"
	"strings"
)

// Schema defines the columns of an input record set.
type Schema struct {
	// Name identifies the record set (e.g., "song_data")
	Name string `json:"name"`

	// Columns defines the columns in the schema, in declaration order
	Columns []ColumnDef `json:"columns"`
}

// ColumnDef defines a single column in the schema.
type ColumnDef struct {
	// Name is the JSON key and column name
	Name string `json:"name"`

	// Type is the engine type: VARCHAR, BIGINT, DOUBLE
	Type string `json:"type"`
}

// SchemaOf builds a schema from a record struct. Each exported field needs a
// `json` tag naming the key and a `db` tag naming the engine type. Every
// column is read as nullable.
func SchemaOf(name string, record interface{}) (Schema, error) {
	t := reflect.TypeOf(record)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return Schema{}, fmt.Errorf("types: schema source must be a struct, got %s", t.Kind())
	}

	schema := Schema{Name: name}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		key := strings.Split(f.Tag.Get("json"), ",")[0]
		if key == "" || key == "-" {
			continue
		}
		typ := f.Tag.Get("db")
		if typ == "" {
			return Schema{}, fmt.Errorf("types: field %s.%s has no db type", t.Name(), f.Name)
		}
		schema.Columns = append(schema.Columns, ColumnDef{Name: key, Type: typ})
	}
	return schema, nil
}

// MustSchemaOf is SchemaOf for package-level schema declarations.
func MustSchemaOf(name string, record interface{}) Schema {
	s, err := SchemaOf(name, record)
	if err != nil {
		panic(err)
	}
	return s
}

// Input schemas. Fixed rather than inferred so identical input always yields
// identical column types.
var (
	SongDataSchema = MustSchemaOf("song_data", SongRecord{})
	LogDataSchema  = MustSchemaOf("log_data", LogEvent{})
)
