package api

import (
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"certprint/internal/certify"
	"certprint/internal/task"
)

var uiTemplates = template.Must(template.New("layout").Parse(`{{define "layout"}}
<!doctype html>
<html lang="zh">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  {{if .Processing}}<meta http-equiv="refresh" content="5"/>{{end}}
  <title>Certificate kiosk</title>
  <style>
    body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,Cantarell,Noto Sans,sans-serif;max-width:880px;margin:32px auto;padding:0 16px;color:#0b0b0b;background:#fafafa}
    header{margin-bottom:24px}
    h1{font-size:22px;margin:0 0 8px}
    .card{background:#fff;border:1px solid #e9e9e9;border-radius:10px;padding:16px;margin:12px 0}
    .row{display:flex;gap:12px;flex-wrap:wrap;align-items:center}
    .btn{display:inline-block;background:#0b63e5;color:#fff;border:none;padding:10px 14px;border-radius:8px;cursor:pointer}
    .btn.secondary{background:#444}
    select{padding:9px 10px;border:1px solid #dcdcdc;border-radius:8px}
    .muted{color:#666}
    .mono{font-family:ui-monospace,SFMono-Regular,Menlo,Monaco,Consolas,monospace}
    .status{display:inline-block;padding:4px 8px;border-radius:6px;background:#efefef;font-size:12px}
    .status.success{background:#e3f6e5}
    .status.failed{background:#fde7e6}
    footer{margin-top:24px;color:#666;font-size:12px}
  </style>
</head>
<body>
  <header>
    <h1>Certificate kiosk</h1>
    <div class="muted">Operator status page</div>
  </header>
  {{template "content" .}}
  <footer>
    <div>API base: <span class="mono">/api</span></div>
  </footer>
</body>
</html>
{{end}}

{{define "home"}}
  {{template "layout" .}}
{{end}}

{{define "content"}}
  {{if .Error}}
  <div class="card" style="border-color:#f2b8b5;background:#fff6f6">
    <strong style="color:#b3261e">Error:</strong> <span class="muted">{{.Error}}</span>
  </div>
  {{end}}
  <div class="card">
    <h2>Status</h2>
    <div>Task: <span class="status {{.Info.Status}}">{{.Info.Status}}</span></div>
    <div class="muted">{{.Report.Message}}</div>
    {{if .Report.ErrorKind}}<div>Error type: <span class="mono">{{.Report.ErrorKind}}</span></div>{{end}}
    {{with .Info.CurrentTask}}
    <div style="margin-top:8px">
      <div>Document: <strong>{{.CertName}}</strong> <span class="mono">({{.DocumentType}})</span></div>
      <div>User type: {{.UserType}}</div>
      {{if .TraceID}}<div class="muted">Trace: <span class="mono">{{.TraceID}}</span></div>{{end}}
    </div>
    {{end}}
  </div>

  <div class="card">
    <h2>Document type</h2>
    <form method="post" action="/ui/document_type">
      <div class="row">
        <select name="user_type">
          <option value="individual">个人</option>
          <option value="corporate">法人</option>
        </select>
        <select name="document_type">
          {{range .Documents}}<option value="{{.Code}}">{{.Name}}</option>{{end}}
        </select>
        <button class="btn" type="submit"{{if .Processing}} disabled{{end}}>Select</button>
      </div>
    </form>
    <div class="muted">POST /api/document_type</div>
  </div>

  <div class="card">
    <h2>Workspace</h2>
    <form method="post" action="/ui/clear">
      <button class="btn secondary" type="submit"{{if .Processing}} disabled{{end}}>Clear data</button>
    </form>
    <div class="muted">GET /api/clear_data</div>
  </div>
{{end}}
`))

// RegisterUIRoutes registers minimal HTML UI without JS
func (a *API) RegisterUIRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(uiTemplates)
	router.GET("/", a.UIHome)
	router.POST("/ui/document_type", a.UISetDocumentType)
	router.POST("/ui/clear", a.UIClear)
}

func (a *API) page(errMsg string) gin.H {
	info := a.service.SystemStatus()
	return gin.H{
		"Info":       info,
		"Report":     a.service.GetStatus(),
		"Documents":  a.service.Documents(),
		"Processing": info.Status == task.StatusProcessing,
		"Error":      errMsg,
	}
}

// UIHome renders the status page
func (a *API) UIHome(c *gin.Context) { c.HTML(http.StatusOK, "home", a.page("")) }

// UISetDocumentType applies the form selection and redirects home
func (a *API) UISetDocumentType(c *gin.Context) {
	category := task.Category(strings.TrimSpace(c.PostForm("user_type")))
	code := strings.TrimSpace(c.PostForm("document_type"))
	if _, err := a.service.SetDocumentType(category, code); err != nil {
		c.HTML(uiStatus(err), "home", a.page(err.Error()))
		return
	}
	c.Redirect(http.StatusFound, "/")
}

// UIClear clears the workspace and redirects home
func (a *API) UIClear(c *gin.Context) {
	if err := a.service.ClearWorkspace(); err != nil {
		c.HTML(uiStatus(err), "home", a.page(err.Error()))
		return
	}
	c.Redirect(http.StatusFound, "/")
}

func uiStatus(err error) int {
	switch {
	case errors.Is(err, certify.ErrAlreadyProcessing):
		return http.StatusTooManyRequests
	case errors.Is(err, certify.ErrInvalidCategory), errors.Is(err, certify.ErrUnknownDocumentType):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
