package schema

import (
	_ "embed"
	"errors"

	"github.com/xeipuuv/gojsonschema"
)

var ErrSchemaNotFound = errors.New("schema not found")

type SchemaType int

const (
	SchemaTypeRequest SchemaType = iota
	SchemaTypeSpawn
)

func (t SchemaType) String() string {
	switch t {
	case SchemaTypeRequest:
		return "request"
	case SchemaTypeSpawn:
		return "spawn"
	default:
		return "unknown"
	}
}

// Schema validates request bodies of the http api.
type Schema struct {
	schemas map[SchemaType]*gojsonschema.Schema
}

//go:embed request.json
var requestSchema []byte

//go:embed spawn.json
var spawnSchema []byte

// New compiles the embedded schemas.
func New() (*Schema, error) {
	request, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(requestSchema))
	if err != nil {
		return nil, err
	}

	spawn, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(spawnSchema))
	if err != nil {
		return nil, err
	}

	return &Schema{
		schemas: map[SchemaType]*gojsonschema.Schema{
			SchemaTypeRequest: request,
			SchemaTypeSpawn:   spawn,
		},
	}, nil
}

func (s *Schema) Get(schemaType SchemaType) (*gojsonschema.Schema, error) {
	schema, ok := s.schemas[schemaType]
	if !ok {
		return nil, ErrSchemaNotFound
	}

	return schema, nil
}

// Validate validates the JSON document data.
func (s *Schema) Validate(schemaType SchemaType, data []byte) (*gojsonschema.Result, error) {
	schema, err := s.Get(schemaType)
	if err != nil {
		return nil, err
	}

	return schema.Validate(gojsonschema.NewBytesLoader(data))
}
