package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/dileep-u-k/agent-gateway/internal/tools"

	"github.com/xeipuuv/gojsonschema"
)

// remoteTool exposes one provider capability as a tools.ToolExecutor.
type remoteTool struct {
	transport  *Transport
	capability Capability
	definition tools.Tool
	schema     *gojsonschema.Schema
}

var _ tools.ToolExecutor = (*remoteTool)(nil)

func newRemoteTool(t *Transport, c Capability) *remoteTool {
	params, err := tools.ParseJSONSchema(c.InputSchema)
	if err != nil {
		log.Printf("WARNING: Capability %s/%s has an unreadable schema: %v", t.ID(), c.Name, err)
		params = tools.JSONSchema{Type: "object"}
	}
	rt := &remoteTool{
		transport:  t,
		capability: c,
		definition: tools.NewFunctionTool(c.Name, c.Description, params),
	}
	if len(c.InputSchema) > 0 {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(c.InputSchema))
		if err != nil {
			log.Printf("WARNING: Capability %s/%s schema not usable for validation: %v", t.ID(), c.Name, err)
		} else {
			rt.schema = schema
		}
	}
	return rt
}

func (r *remoteTool) Definition() tools.Tool {
	return r.definition
}

// Execute validates the arguments against the capability schema and
// delegates to the provider.
func (r *remoteTool) Execute(ctx context.Context, arguments string) (string, error) {
	args := map[string]any{}
	if strings.TrimSpace(arguments) != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return "", fmt.Errorf("arguments for %s are not a JSON object: %w", r.capability.Name, err)
		}
		if args == nil {
			// "null" stands for no arguments.
			args = map[string]any{}
		}
	}
	if r.schema != nil {
		res, err := r.schema.Validate(gojsonschema.NewGoLoader(args))
		if err != nil {
			return "", fmt.Errorf("failed to validate arguments for %s: %w", r.capability.Name, err)
		}
		if !res.Valid() {
			msgs := make([]string, 0, len(res.Errors()))
			for _, e := range res.Errors() {
				msgs = append(msgs, e.String())
			}
			return "", fmt.Errorf("invalid arguments for %s: %s", r.capability.Name, strings.Join(msgs, "; "))
		}
	}
	return r.transport.Invoke(ctx, r.capability.Name, args)
}
