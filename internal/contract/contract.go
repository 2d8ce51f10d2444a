// Package contract holds the event envelope contract and validates candidate
// envelopes against it.
package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/invopop/jsonschema"

	"github.com/hpcomplexio/mission-control/internal/model"
)

var ErrMalformed = errors.New("malformed JSON")

// Contract is a loaded envelope contract: the schema document plus the
// pieces the validator checks against.
type Contract struct {
	schema     *jsonschema.Schema
	version    *semver.Version
	required   []string
	sources    map[string]struct{}
	types      map[string]struct{}
	severities map[string]struct{}
}

// Default reflects the contract from model.Envelope.
func Default() *Contract {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(&model.Envelope{})
	c, err := FromSchema(schema)
	if err != nil {
		// The reflected schema always carries the enums and the version pin.
		panic(fmt.Sprintf("contract: reflected envelope schema is incomplete: %v", err))
	}
	return c
}

// Load reads a JSON Schema document describing the envelope from disk.
func Load(path string) (*Contract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading event schema: %w", err)
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("parsing event schema %s: %w", path, err)
	}
	return FromSchema(&schema)
}

// FromSchema extracts the required list, the source/type/severity enum sets
// and the schemaVersion pin (const, falling back to default) from schema.
func FromSchema(schema *jsonschema.Schema) (*Contract, error) {
	if schema == nil || schema.Properties == nil {
		return nil, fmt.Errorf("event schema has no properties")
	}

	c := &Contract{
		schema:   schema,
		required: append([]string(nil), schema.Required...),
	}

	var err error
	if c.sources, err = enumSet(schema, "source"); err != nil {
		return nil, err
	}
	if c.types, err = enumSet(schema, "type"); err != nil {
		return nil, err
	}
	if c.severities, err = enumSet(schema, "severity"); err != nil {
		return nil, err
	}

	pin := model.SchemaVersion
	if p, ok := schema.Properties.Get("schemaVersion"); ok && p != nil {
		if s, ok := p.Const.(string); ok && s != "" {
			pin = s
		} else if s, ok := p.Default.(string); ok && s != "" {
			pin = s
		}
	}
	if c.version, err = semver.StrictNewVersion(pin); err != nil {
		return nil, fmt.Errorf("schemaVersion pin %q: %w", pin, err)
	}

	return c, nil
}

func enumSet(schema *jsonschema.Schema, property string) (map[string]struct{}, error) {
	p, ok := schema.Properties.Get(property)
	if !ok || p == nil || len(p.Enum) == 0 {
		return nil, fmt.Errorf("event schema property %q has no enum", property)
	}
	set := make(map[string]struct{}, len(p.Enum))
	for _, v := range p.Enum {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("event schema property %q has a non-string enum value", property)
		}
		set[s] = struct{}{}
	}
	return set, nil
}

// Schema returns the schema document the contract was built from.
func (c *Contract) Schema() *jsonschema.Schema {
	return c.schema
}

// Version returns the pinned schema version.
func (c *Contract) Version() *semver.Version {
	return c.version
}
