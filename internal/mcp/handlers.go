package mcp

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"

	keyerrors "github.com/hpungsan/keyai/internal/errors"
	"github.com/hpungsan/keyai/internal/ops"
	"github.com/hpungsan/keyai/internal/pipeline"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	p *pipeline.Pipeline
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(p *pipeline.Pipeline) *Handlers {
	return &Handlers{p: p}
}

// argsInto unpacks tool-call arguments into the operation's input
// struct. The arguments arrive as an already-decoded JSON object, so a
// marshal round trip gives every input type its pointer and list
// semantics without a per-tool request mirror.
func argsInto(req mcp.CallToolRequest, out any) error {
	raw, err := json.Marshal(req.GetArguments())
	if err == nil {
		err = json.Unmarshal(raw, out)
	}
	if err != nil {
		return keyerrors.NewInvalidQuery(fmt.Sprintf("malformed arguments: %v", err))
	}
	return nil
}

// HandleStartCapture handles the start_capture tool call.
func (h *Handlers) HandleStartCapture(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.StartCapture(ctx, h.p)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleStopCapture handles the stop_capture tool call.
func (h *Handlers) HandleStopCapture(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input ops.StopCaptureInput
	if err := argsInto(req, &input); err != nil {
		return errorResult(err), nil
	}
	result, err := ops.StopCapture(ctx, h.p, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleStatus handles the get_status tool call.
func (h *Handlers) HandleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(ops.CaptureStatus(h.p))
}

// HandleCurrentWindow handles the current_window tool call.
func (h *Handlers) HandleCurrentWindow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(ops.CurrentWindow(h.p))
}

// HandleSearchText handles the search_text tool call.
func (h *Handlers) HandleSearchText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input ops.SearchTextInput
	if err := argsInto(req, &input); err != nil {
		return errorResult(err), nil
	}
	result, err := ops.SearchText(ctx, h.p, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSearchSemantic handles the search_semantic tool call.
func (h *Handlers) HandleSearchSemantic(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input ops.SearchSemanticInput
	if err := argsInto(req, &input); err != nil {
		return errorResult(err), nil
	}
	result, err := ops.SearchSemantic(ctx, h.p, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSearchHybrid handles the search_hybrid tool call.
func (h *Handlers) HandleSearchHybrid(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input ops.SearchHybridInput
	if err := argsInto(req, &input); err != nil {
		return errorResult(err), nil
	}
	result, err := ops.SearchHybrid(ctx, h.p, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSuggestions handles the get_search_suggestions tool call.
func (h *Handlers) HandleSuggestions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input ops.SuggestionsInput
	if err := argsInto(req, &input); err != nil {
		return errorResult(err), nil
	}
	return successResult(ops.Suggestions(h.p, input))
}

// HandleStats handles the get_stats tool call.
func (h *Handlers) HandleStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.Stats(ctx, h.p)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleHealth handles the get_health tool call.
func (h *Handlers) HandleHealth(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(ops.Health(ctx, h.p))
}

// HandleMetrics handles the get_metrics tool call.
func (h *Handlers) HandleMetrics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(ops.GetMetrics(h.p))
}

// HandleGetConfig handles the get_config tool call.
func (h *Handlers) HandleGetConfig(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(ops.GetConfig(h.p))
}

// HandleUpdateConfig handles the update_config tool call.
func (h *Handlers) HandleUpdateConfig(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input ops.UpdateConfigInput
	if err := argsInto(req, &input); err != nil {
		return errorResult(err), nil
	}
	result, err := ops.UpdateConfig(h.p, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleOptimize handles the optimize_search_index tool call.
func (h *Handlers) HandleOptimize(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.Optimize(ctx, h.p)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleClear handles the clear_data tool call.
func (h *Handlers) HandleClear(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input ops.ClearInput
	if err := argsInto(req, &input); err != nil {
		return errorResult(err), nil
	}
	result, err := ops.Clear(ctx, h.p, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleExport handles the export_data tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input ops.ExportInput
	if err := argsInto(req, &input); err != nil {
		return errorResult(err), nil
	}
	result, err := ops.Export(ctx, h.p, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleImport handles the import_data tool call.
func (h *Handlers) HandleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input ops.ImportInput
	if err := argsInto(req, &input); err != nil {
		return errorResult(err), nil
	}
	result, err := ops.Import(ctx, h.p, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleBackup handles the backup_database tool call.
func (h *Handlers) HandleBackup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input ops.BackupInput
	if err := argsInto(req, &input); err != nil {
		return errorResult(err), nil
	}
	result, err := ops.Backup(ctx, h.p, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleReplayDeadLetter handles the replay_dead_letter tool call.
func (h *Handlers) HandleReplayDeadLetter(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.ReplayDeadLetter(ctx, h.p)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed to avoid leaking file paths or
// SQL fragments.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if keyErr, ok := err.(*keyerrors.KeyError); ok {
		errorObj := map[string]any{
			"code":    keyErr.Code,
			"message": keyErr.Message,
			"status":  keyErr.Status,
		}
		if keyErr.Code != keyerrors.ErrInternal && keyErr.Details != nil {
			errorObj["details"] = keyErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
