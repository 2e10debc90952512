package equivalency

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed seed/table.json
var seedTable []byte

//go:embed seed/table.schema.json
var seedSchema []byte

const tableSchemaURL = "https://arclight.schemas.local/equivalency/table.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func tableSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(tableSchemaURL, bytes.NewReader(seedSchema)); err != nil {
			schemaErr = fmt.Errorf("table schema load failed: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(tableSchemaURL)
	})
	return compiledSchema, schemaErr
}

// LoadTable validates raw table JSON against the embedded schema and
// decodes it. Deployments overriding the seed load their tables through
// the same gate, so a malformed override fails before it can poison the
// map.
func LoadTable(data []byte) (*Table, error) {
	schema, err := tableSchema()
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("equivalency table is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("equivalency table schema violation: %w", err)
	}

	var table Table
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("equivalency table decode failed: %w", err)
	}
	return &table, nil
}

// LoadSeed returns the embedded coalition table.
func LoadSeed() (*Table, error) {
	return LoadTable(seedTable)
}
