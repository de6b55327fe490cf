package tools

import (
	"fmt"

	"github.com/dileep-u-k/agent-gateway/internal/vault"
)

// Names of the built-in tool toggles an agent can switch on.
const (
	BuiltinCalculator = "calculator"
	BuiltinWeather    = "weather"
	BuiltinNews       = "news"
	BuiltinListFiles  = "list_files"
	BuiltinReadFile   = "read_file"
	BuiltinWriteFile  = "write_file"
	BuiltinDeleteFile = "delete_file"
)

// BuiltinNames lists every built-in toggle in registration order.
var BuiltinNames = []string{
	BuiltinCalculator,
	BuiltinWeather,
	BuiltinNews,
	BuiltinListFiles,
	BuiltinReadFile,
	BuiltinWriteFile,
	BuiltinDeleteFile,
}

// BuiltinDeps carries what built-in tools need from the host.
type BuiltinDeps struct {
	Vault      vault.FS
	NewsAPIKey string
	WeatherURL string
}

// NewBuiltin constructs the built-in tool behind a toggle name.
func NewBuiltin(name string, deps BuiltinDeps) (ToolExecutor, error) {
	switch name {
	case BuiltinCalculator:
		return NewCalculatorTool(), nil
	case BuiltinWeather:
		return NewWeatherTool(deps.WeatherURL), nil
	case BuiltinNews:
		return NewNewsTool(deps.NewsAPIKey)
	case BuiltinListFiles, BuiltinReadFile, BuiltinWriteFile, BuiltinDeleteFile:
		if deps.Vault == nil {
			return nil, fmt.Errorf("built-in tool %s needs a vault", name)
		}
		switch name {
		case BuiltinListFiles:
			return NewListFilesTool(deps.Vault), nil
		case BuiltinReadFile:
			return NewReadFileTool(deps.Vault), nil
		case BuiltinWriteFile:
			return NewWriteFileTool(deps.Vault), nil
		default:
			return NewDeleteFileTool(deps.Vault), nil
		}
	default:
		return nil, fmt.Errorf("unknown built-in tool %q", name)
	}
}
