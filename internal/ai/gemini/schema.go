package gemini

import (
	"google.golang.org/genai"

	"github.com/spigell/career-agent/internal/ai"
)

func toFunctionDeclarations(tools []ai.ToolDeclaration) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  toSchema(tool.Parameters, false),
		})
	}
	return decls
}

// toSchema converts a JSON schema subset to a Gemini schema. Gemini has no
// notion of additionalProperties; undeclared arguments are rejected by the
// tool registry instead.
func toSchema(s *ai.Schema, ordered bool) *genai.Schema {
	if s == nil {
		return nil
	}

	out := &genai.Schema{
		Type:        toType(s.Type),
		Description: s.Description,
		Required:    s.Required,
		Items:       toSchema(s.Items, ordered),
	}

	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toSchema(prop, ordered)
		}
		if ordered {
			out.PropertyOrdering = s.PropertyNames()
		}
	}

	return out
}

func toType(t string) genai.Type {
	switch t {
	case ai.TypeObject:
		return genai.TypeObject
	case ai.TypeString:
		return genai.TypeString
	case ai.TypeBoolean:
		return genai.TypeBoolean
	case ai.TypeInteger:
		return genai.TypeInteger
	case ai.TypeNumber:
		return genai.TypeNumber
	case ai.TypeArray:
		return genai.TypeArray
	default:
		return genai.TypeUnspecified
	}
}
