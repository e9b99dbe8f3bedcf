package api

import (
	_ "embed"
	"net/http"

	"github.com/labstack/echo/v4"
)

//go:embed openapi.yaml
var openAPISpec []byte

// RegisterDocs mounts the OpenAPI document and the Swagger UI.
func RegisterDocs(e *echo.Echo) {
	e.GET("/openapi.yaml", SpecHandler)
	e.GET("/docs", SwaggerHandler)
}

// SpecHandler serves the embedded OpenAPI YAML spec.
func SpecHandler(c echo.Context) error {
	return c.Blob(http.StatusOK, "application/yaml", openAPISpec)
}

// SwaggerHandler serves a Swagger UI page that points at the OpenAPI spec.
// Assets come from the CDN so no static files are checked in. Requests are
// authorized with a pasted bearer token.
func SwaggerHandler(c echo.Context) error {
	return c.HTML(http.StatusOK, swaggerHTML)
}

const swaggerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <title>Workflow Run Ingestion API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist/swagger-ui-bundle.js"></script>
  <script>
  window.onload = function() {
    window.ui = SwaggerUIBundle({
      url: "/openapi.yaml",
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      layout: "BaseLayout",
      persistAuthorization: true,
    });
  }
  </script>
</body>
</html>`
