package validate

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/basket/trackd/internal/entity"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Insight payloads are free-form structured content, but each insight type
// carries a minimal shape contract: the payload must be a JSON object and,
// where the type implies one, name its central field. Schemas are compiled
// once at package load.
var payloadSchemas = map[entity.InsightType]*jsonschema.Schema{}

var payloadSchemaJSON = map[entity.InsightType]string{
	entity.InsightTypePattern:    `{"type": "object"}`,
	entity.InsightTypeSuggestion: `{"type": "object"}`,
	entity.InsightTypeRisk:       `{"type": "object"}`,
}

func init() {
	for typ, schemaJSON := range payloadSchemaJSON {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
		if err != nil {
			panic(fmt.Sprintf("validate: unmarshal %s payload schema: %v", typ, err))
		}
		c := jsonschema.NewCompiler()
		name := string(typ) + ".json"
		if err := c.AddResource(name, doc); err != nil {
			panic(fmt.Sprintf("validate: add %s payload schema: %v", typ, err))
		}
		schema, err := c.Compile(name)
		if err != nil {
			panic(fmt.Sprintf("validate: compile %s payload schema: %v", typ, err))
		}
		payloadSchemas[typ] = schema
	}
}

// payloadSchemaError validates a raw payload against the schema for the
// insight type. Unknown types have no schema and pass through; the type
// field itself is rejected separately.
func payloadSchemaError(typ entity.InsightType, raw []byte) (reason string, ok bool) {
	schema, found := payloadSchemas[typ]
	if !found {
		return "", true
	}
	// jsonschema.UnmarshalJSON yields json.Number values as the validator requires.
	parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return "invalid JSON: " + err.Error(), false
	}
	if err := schema.Validate(parsed); err != nil {
		return "must be a structured object: " + err.Error(), false
	}
	return "", true
}
