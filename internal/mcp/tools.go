package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// Tool definitions. Read-only tools carry the annotation so clients can
// call them without confirmation prompts; clear_data is the only one
// marked destructive.

var startCaptureToolDef = mcp.NewTool("start_capture",
	mcp.WithDescription("Bind the keyboard hook and start the capture pipeline. Starting while already running is a no-op success."),
	mcp.WithReadOnlyHintAnnotation(false),
	mcp.WithDestructiveHintAnnotation(false),
	mcp.WithIdempotentHintAnnotation(true),
)

var stopCaptureToolDef = mcp.NewTool("stop_capture",
	mcp.WithDescription("Release the keyboard hook and drain the pipeline. Events already captured are flushed to the store before this returns."),
	mcp.WithReadOnlyHintAnnotation(false),
	mcp.WithDestructiveHintAnnotation(false),
	mcp.WithIdempotentHintAnnotation(true),
	mcp.WithNumber("timeout_ms",
		mcp.Description("Max time in milliseconds to wait for the orderly drain (default 10000)"),
	),
)

var statusToolDef = mcp.NewTool("get_status",
	mcp.WithDescription("Report the capture state: running flag, event counters, active window, last event timestamp, last error."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithIdempotentHintAnnotation(true),
)

var currentWindowToolDef = mcp.NewTool("current_window",
	mcp.WithDescription("Return the active window as last probed. Empty outside a capture session."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithIdempotentHintAnnotation(true),
)

var searchTextToolDef = mcp.NewTool("search_text",
	mcp.WithDescription("Full-text search over captured events with BM25 ranking and snippet highlighting."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithIdempotentHintAnnotation(true),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("Search query; supports FTS5 phrase and prefix syntax"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Max results (default 50, cap 1000)"),
	),
	mcp.WithNumber("offset",
		mcp.Description("Results to skip for paging"),
	),
	mcp.WithNumber("from",
		mcp.Description("Only events with ts >= from (epoch ms)"),
	),
	mcp.WithNumber("to",
		mcp.Description("Only events with ts <= to (epoch ms)"),
	),
	mcp.WithArray("applications",
		mcp.Description("Only events from these applications (case-insensitive)"),
	),
	mcp.WithArray("exclude_applications",
		mcp.Description("Drop events from these applications"),
	),
	mcp.WithString("kind",
		mcp.Description("Restrict to event kind: text or key"),
	),
)

var searchSemanticToolDef = mcp.NewTool("search_semantic",
	mcp.WithDescription("Semantic search by cosine similarity over event embeddings. Recently captured events may not be indexed yet."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithIdempotentHintAnnotation(true),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("Natural-language query"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Max results (default 50, cap 1000)"),
	),
	mcp.WithNumber("threshold",
		mcp.Description("Minimum similarity in [0,1]; omitted uses 0.5, explicit 0 accepts everything"),
	),
	mcp.WithNumber("from",
		mcp.Description("Only events with ts >= from (epoch ms)"),
	),
	mcp.WithNumber("to",
		mcp.Description("Only events with ts <= to (epoch ms)"),
	),
	mcp.WithArray("applications",
		mcp.Description("Only events from these applications (case-insensitive)"),
	),
	mcp.WithArray("exclude_applications",
		mcp.Description("Drop events from these applications"),
	),
)

var searchHybridToolDef = mcp.NewTool("search_hybrid",
	mcp.WithDescription("Run lexical and semantic search and fuse the rankings with reciprocal rank fusion."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithIdempotentHintAnnotation(true),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("Search query"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Max results (default 50, cap 1000)"),
	),
	mcp.WithNumber("text_weight",
		mcp.Description("Weight of the lexical ranking (default 0.7; weights are normalized to sum 1)"),
	),
	mcp.WithNumber("semantic_weight",
		mcp.Description("Weight of the semantic ranking (default 0.3)"),
	),
	mcp.WithNumber("from",
		mcp.Description("Only events with ts >= from (epoch ms)"),
	),
	mcp.WithNumber("to",
		mcp.Description("Only events with ts <= to (epoch ms)"),
	),
	mcp.WithArray("applications",
		mcp.Description("Only events from these applications (case-insensitive)"),
	),
	mcp.WithArray("exclude_applications",
		mcp.Description("Drop events from these applications"),
	),
)

var suggestionsToolDef = mcp.NewTool("get_search_suggestions",
	mcp.WithDescription("List remembered past queries matching a prefix, most frequent first."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithIdempotentHintAnnotation(true),
	mcp.WithString("prefix",
		mcp.Description("Prefix to match; empty lists the most frequent queries"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Max suggestions (default 10)"),
	),
)

var statsToolDef = mcp.NewTool("get_stats",
	mcp.WithDescription("Database size, row counts, time range, per-application counts, and backlog state."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithIdempotentHintAnnotation(true),
)

var healthToolDef = mcp.NewTool("get_health",
	mcp.WithDescription("Aggregate health: healthy, degraded, or unhealthy, with per-check detail."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithIdempotentHintAnnotation(true),
)

var metricsToolDef = mcp.NewTool("get_metrics",
	mcp.WithDescription("Snapshot of every pipeline counter plus per-pattern redaction status."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithIdempotentHintAnnotation(true),
)

var getConfigToolDef = mcp.NewTool("get_config",
	mcp.WithDescription("Return the active configuration. The database key is redacted."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithIdempotentHintAnnotation(true),
)

var updateConfigToolDef = mcp.NewTool("update_config",
	mcp.WithDescription("Overlay fields onto the active configuration. Capture filters and toggles apply immediately; fields that only take effect on restart are listed in the response."),
	mcp.WithReadOnlyHintAnnotation(false),
	mcp.WithDestructiveHintAnnotation(false),
	mcp.WithObject("config",
		mcp.Required(),
		mcp.Description("Partial configuration; zero-valued fields keep their current values"),
	),
)

var optimizeToolDef = mcp.NewTool("optimize_search_index",
	mcp.WithDescription("Consolidate the full-text index, compact the database, and backfill missing embeddings. Safe while capturing."),
	mcp.WithReadOnlyHintAnnotation(false),
	mcp.WithDestructiveHintAnnotation(false),
	mcp.WithIdempotentHintAnnotation(true),
)

var clearToolDef = mcp.NewTool("clear_data",
	mcp.WithDescription("Delete every captured event and embedding. Refused unless confirm is true."),
	mcp.WithReadOnlyHintAnnotation(false),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithBoolean("confirm",
		mcp.Required(),
		mcp.Description("Must be true; guards against accidental wipes"),
	),
)

var exportToolDef = mcp.NewTool("export_data",
	mcp.WithDescription("Write events as line-delimited JSON to a file in the exports directory. Content is already masked; the file is plaintext."),
	mcp.WithReadOnlyHintAnnotation(false),
	mcp.WithDestructiveHintAnnotation(false),
	mcp.WithString("path",
		mcp.Description("Destination .jsonl or .jsonl.gz inside the exports directory; empty uses a timestamped name"),
	),
	mcp.WithNumber("from",
		mcp.Description("Only events with ts >= from (epoch ms)"),
	),
	mcp.WithNumber("to",
		mcp.Description("Only events with ts <= to (epoch ms)"),
	),
	mcp.WithBoolean("include_embeddings",
		mcp.Description("Include each event's embedding and the model tag"),
	),
)

var importToolDef = mcp.NewTool("import_data",
	mcp.WithDescription("Load an export file. Ids are preserved; the import is rejected wholesale if any id already exists. Content is re-masked on the way in."),
	mcp.WithReadOnlyHintAnnotation(false),
	mcp.WithDestructiveHintAnnotation(false),
	mcp.WithString("path",
		mcp.Required(),
		mcp.Description("Source .jsonl or .jsonl.gz inside the exports directory"),
	),
)

var backupToolDef = mcp.NewTool("backup_database",
	mcp.WithDescription("Write a compacted, still-encrypted copy of the database. The copy opens with the same key."),
	mcp.WithReadOnlyHintAnnotation(false),
	mcp.WithDestructiveHintAnnotation(false),
	mcp.WithString("path",
		mcp.Description("Destination .db inside the exports directory; must not exist; empty uses a timestamped name"),
	),
)

var replayToolDef = mcp.NewTool("replay_dead_letter",
	mcp.WithDescription("Push dead-lettered batches back through the store now, oldest first."),
	mcp.WithReadOnlyHintAnnotation(false),
	mcp.WithDestructiveHintAnnotation(false),
	mcp.WithIdempotentHintAnnotation(true),
)
