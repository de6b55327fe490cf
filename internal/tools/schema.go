package tools

import (
	"encoding/json"
	"log"

	"github.com/invopop/jsonschema"
)

// reflector turns a tool's Go argument struct into the parameters schema the
// model sees. Fields without `omitempty` are required; descriptions come from
// the `jsonschema_description` tag.
var reflector = &jsonschema.Reflector{
	ExpandedStruct: true,
	DoNotReference: true,
}

// SchemaFor reflects the JSON Schema of an argument struct.
func SchemaFor(args any) JSONSchema {
	raw, err := json.Marshal(reflector.Reflect(args))
	if err != nil {
		// Reflecting a plain struct cannot fail; fall back to an open object.
		log.Printf("WARNING: failed to reflect tool schema for %T: %v", args, err)
		return JSONSchema{Type: "object"}
	}
	schema, err := ParseJSONSchema(raw)
	if err != nil {
		log.Printf("WARNING: failed to decode reflected schema for %T: %v", args, err)
		return JSONSchema{Type: "object"}
	}
	return schema
}
