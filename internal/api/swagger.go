package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	yaml "gopkg.in/yaml.v3"
)

// SwaggerHandler serves an interactive Swagger UI with the OpenAPI
// document inlined, so the console works even when /openapi.yaml sits
// behind a proxy.
func (s *Server) SwaggerHandler(w http.ResponseWriter, r *http.Request) {
	data, err := openAPILoad()
	if err != nil {
		writeProblem(w, 500, "OpenAPI not available", err.Error(), r.URL.Path)
		return
	}
	var obj map[string]any
	if err := yaml.Unmarshal(data, &obj); err != nil {
		writeProblem(w, 500, "OpenAPI parse failed", err.Error(), r.URL.Path)
		return
	}
	js, _ := json.Marshal(obj)
	b64 := base64.StdEncoding.EncodeToString(js)
	html := `<!DOCTYPE html><html lang="en"><head>
	<title>FleetRoute API Console</title>
	<meta charset="utf-8"/>
	<meta name="viewport" content="width=device-width,initial-scale=1">
	<link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css" />
	<style>body{margin:0} .topbar{display:none} .cfg{position:fixed;top:8px;right:8px;padding:8px;background:#fff;border:1px solid #ddd;z-index:9}</style>
	</head><body>
	<div class="cfg">
	  <div><strong>Tenant</strong></div>
	  <div><label>X-Tenant-Id: <input id="tenant" value="t_demo"></label></div>
	  <button onclick="saveTenant()">Save</button>
	</div>
	<div id="swagger-ui"></div>
	<script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
	<script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-standalone-preset.js"></script>
	<script>
	const spec = JSON.parse(atob('` + b64 + `'));
	function loadTenant(){
	  const t=localStorage.getItem('tenant')||'t_demo';
	  document.getElementById('tenant').value=t;
	  return t;
	}
	function saveTenant(){ localStorage.setItem('tenant', document.getElementById('tenant').value); alert('Saved'); }
	loadTenant();
	const ui = SwaggerUIBundle({
	    spec: spec,
	    dom_id: '#swagger-ui',
	    deepLinking: true,
	    presets: [SwaggerUIBundle.presets.apis, SwaggerUIStandalonePreset],
	    layout: "BaseLayout",
	    requestInterceptor: (req) => {
	        const t = loadTenant();
	        if (t) req.headers['X-Tenant-Id'] = t;
	        return req;
	    }
	});
	</script>
	</body></html>`
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(html))
}
