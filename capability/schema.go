package capability

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	jsonschemav5 "github.com/santhosh-tekuri/jsonschema/v5"
)

// reflectInputSchema reflects a Go argument struct into a JSON schema
// document. Definitions are inlined so the descriptor is self-contained on
// the wire.
func reflectInputSchema[A any]() json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	s := r.Reflect(new(A))
	if s == nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	b, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return b
}

// argumentValidator checks an argument bag against a capability's input
// schema. The schema compiles once, on first use.
type argumentValidator struct {
	name   string
	schema json.RawMessage

	once     sync.Once
	compiled *jsonschemav5.Schema
	err      error
}

func newArgumentValidator(name string, schema json.RawMessage) *argumentValidator {
	return &argumentValidator{name: name, schema: schema}
}

func (v *argumentValidator) validate(raw json.RawMessage) error {
	v.once.Do(func() {
		c := jsonschemav5.NewCompiler()
		if err := c.AddResource("schema.json", bytes.NewReader(v.schema)); err != nil {
			v.err = fmt.Errorf("schema resource for %q: %w", v.name, err)
			return
		}
		v.compiled, v.err = c.Compile("schema.json")
	})
	if v.err != nil {
		return v.err
	}

	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("invalid arguments for %q: %w", v.name, err)
	}
	if err := v.compiled.Validate(doc); err != nil {
		return fmt.Errorf("invalid arguments for %q: %w", v.name, err)
	}
	return nil
}
