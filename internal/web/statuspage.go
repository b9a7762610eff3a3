package web

import (
	"html/template"
	"net/http"
	"time"

	"github.com/hpungsan/keyai/internal/ops"
	"github.com/hpungsan/keyai/internal/pipeline"
)

// statusTemplate is the whole UI. The page is a read-only snapshot;
// anything interactive goes through MCP or the CLI.
var statusTemplate = template.Must(template.New("status").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>keyai status</title>
<style>
body { font-family: monospace; margin: 2em; max-width: 48em; }
h1 { font-size: 1.2em; }
table { border-collapse: collapse; margin-bottom: 1.5em; }
td, th { border: 1px solid #ccc; padding: 0.3em 0.8em; text-align: left; }
.healthy { color: #2a7d2a; }
.degraded { color: #b8860b; }
.unhealthy { color: #b02a2a; }
</style>
</head>
<body>
<h1>keyai {{.Version}}</h1>
<table>
<tr><th>health</th><td class="{{.Health.Status}}">{{.Health.Status}}</td></tr>
<tr><th>capture</th><td>{{.Status.State}}</td></tr>
{{if .Status.Window.Application}}<tr><th>window</th><td>{{.Status.Window.Application}}</td></tr>{{end}}
<tr><th>events captured</th><td>{{.Status.EventsCaptured}}</td></tr>
<tr><th>events stored</th><td>{{.Status.EventsStored}}</td></tr>
<tr><th>dropped at hook</th><td>{{.Status.EventsDroppedHook}}</td></tr>
{{if .Status.LastError}}<tr><th>last error</th><td>{{.Status.LastError}}</td></tr>{{end}}
</table>
<table>
<tr><th colspan="2">checks</th></tr>
{{range .Health.Checks}}<tr><td>{{.Name}}</td><td class="{{.Status}}">{{.Status}}{{if .Detail}} — {{.Detail}}{{end}}</td></tr>
{{end}}
</table>
<p>generated {{.Now}}</p>
</body>
</html>
`))

type statusPageData struct {
	Version string
	Status  *ops.CaptureStatusOutput
	Health  *pipeline.Health
	Now     string
}

// HandleStatusPage handles GET / — a read-only HTML snapshot.
func (h *Handlers) HandleStatusPage(w http.ResponseWriter, r *http.Request) {
	data := statusPageData{
		Version: h.version,
		Status:  ops.CaptureStatus(h.p),
		Health:  ops.Health(r.Context(), h.p),
		Now:     time.Now().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusTemplate.Execute(w, data); err != nil {
		h.log.Error().Err(err).Msg("render status page")
	}
}
