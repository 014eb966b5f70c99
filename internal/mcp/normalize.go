package mcp

import "fmt"

// Common aliases the planner uses for ticker arguments. The vnstock tools are
// split between a singular "symbol" (string) and a plural "symbols" (list) and
// the model regularly picks the wrong one.
var symbolAliases = []string{"symbol", "symbols", "symbol_list", "stock", "stocks"}

// NormalizeArgs rewrites planned arguments to match the descriptor: ticker
// aliases are renamed to the declared parameter and scalar/list values are
// coerced to the declared type. Unknown arguments pass through untouched so
// optional parameters absent from the schema keep working.
func (d ToolDescriptor) NormalizeArgs(args map[string]any) map[string]any {
	if len(args) == 0 {
		return args
	}

	_, wantsPlural := d.Params["symbols"]
	_, wantsSingular := d.Params["symbol"]

	normalized := make(map[string]any, len(args))
	for name, value := range args {
		target := name
		if isSymbolAlias(name) {
			if wantsPlural {
				target = "symbols"
			} else if wantsSingular {
				target = "symbol"
			}
		}

		spec, known := d.Params[target]
		if !known {
			normalized[target] = value
			continue
		}

		normalized[target] = coerceValue(value, spec)
	}

	return normalized
}

func isSymbolAlias(name string) bool {
	for _, alias := range symbolAliases {
		if name == alias {
			return true
		}
	}
	return false
}

func coerceValue(value any, spec ParamSpec) any {
	switch spec.Type {
	case "array":
		if list, ok := value.([]any); ok {
			return list
		}
		if list, ok := value.([]string); ok {
			converted := make([]any, len(list))
			for i, s := range list {
				converted[i] = s
			}
			return converted
		}
		return []any{value}

	case "string":
		if list, ok := value.([]any); ok {
			if len(list) == 0 {
				return ""
			}
			return fmt.Sprintf("%v", list[0])
		}
		if s, ok := value.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", value)
	}

	return value
}
