// Package builtin implements spec.md §4.5's minimum built-in tool set
// (store_memory, retrieve_memory, search, store_preferences, get_stats,
// clear_context) as tool.Tool values backed by a memory.Service.
package builtin

import (
	"github.com/raoulbia-ai/claude-recall/memory"
	"github.com/raoulbia-ai/claude-recall/tool"
)

// All returns every built-in tool wired against svc, ready for
// tool.Registry.RegisterAll.
func All(svc *memory.Service) []tool.Tool {
	return []tool.Tool{
		NewStoreMemory(svc),
		NewRetrieveMemory(svc),
		NewSearch(svc),
		NewStorePreferences(svc),
		NewGetStats(svc),
		NewClearContext(svc),
	}
}

func stringProp(desc string) tool.PropertyDef {
	return tool.PropertyDef{Type: "string", Description: desc}
}

func intProp(desc string) tool.PropertyDef {
	return tool.PropertyDef{Type: "integer", Description: desc}
}

func objectProp(desc string) tool.PropertyDef {
	return tool.PropertyDef{Type: "object", Description: desc}
}
