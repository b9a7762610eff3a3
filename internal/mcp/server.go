// Package mcp exposes the pipeline's operations as MCP tools over
// stdio. Handlers decode arguments, dispatch to ops, and encode the
// result; no pipeline logic lives here.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/keyai/internal/pipeline"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"start_capture": {
		def:     startCaptureToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStartCapture },
	},
	"stop_capture": {
		def:     stopCaptureToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStopCapture },
	},
	"get_status": {
		def:     statusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStatus },
	},
	"current_window": {
		def:     currentWindowToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCurrentWindow },
	},
	"search_text": {
		def:     searchTextToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSearchText },
	},
	"search_semantic": {
		def:     searchSemanticToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSearchSemantic },
	},
	"search_hybrid": {
		def:     searchHybridToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSearchHybrid },
	},
	"get_search_suggestions": {
		def:     suggestionsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSuggestions },
	},
	"get_stats": {
		def:     statsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStats },
	},
	"get_health": {
		def:     healthToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHealth },
	},
	"get_metrics": {
		def:     metricsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMetrics },
	},
	"get_config": {
		def:     getConfigToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGetConfig },
	},
	"update_config": {
		def:     updateConfigToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleUpdateConfig },
	},
	"optimize_search_index": {
		def:     optimizeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleOptimize },
	},
	"clear_data": {
		def:     clearToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleClear },
	},
	"export_data": {
		def:     exportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExport },
	},
	"import_data": {
		def:     importToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleImport },
	},
	"backup_database": {
		def:     backupToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleBackup },
	},
	"replay_dead_letter": {
		def:     replayToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleReplayDeadLetter },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// NewServer creates an MCP server with every pipeline tool registered.
func NewServer(p *pipeline.Pipeline, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"keyai",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(p)
	for _, entry := range toolRegistry {
		s.AddTool(entry.def, entry.handler(h))
	}
	return s
}

// Run starts the MCP server using stdio transport. It blocks until the
// client disconnects or stdin closes.
func Run(p *pipeline.Pipeline, version string) error {
	s := NewServer(p, version)
	return server.ServeStdio(s)
}
