// Package status serves read-only projections of the session state.
package status

import (
	"html/template"
	"net/http"

	"github.com/danmuck/sessionrelay/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
)

const (
	Healthy   = "healthy"
	Unhealthy = "unHealthy"
)

// Reader yields the current session snapshot.
type Reader interface {
	Snapshot() session.Snapshot
}

var loginPage = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Scan to log in</title>
  <style>
    body, html { margin: 0; padding: 0; height: 100%; overflow: hidden; }
    iframe { position: absolute; left: 0; right: 0; bottom: 0; top: 0; border: 0; }
  </style>
</head>
<body>
  <iframe src="{{.}}" frameborder="0" style="height:100%;width:100%" allowfullscreen></iframe>
</body>
</html>
`))

// Register mounts /login and /healthz behind verify.
func Register(routes gin.IRoutes, reader Reader, verify gin.HandlerFunc) {
	routes.GET("/login", verify, loginHandler(reader))
	routes.GET("/healthz", verify, healthHandler(reader))
}

func loginHandler(reader Reader) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := reader.Snapshot()
		if snap.Authenticated {
			c.JSON(http.StatusOK, gin.H{
				"success": true,
				"message": snap.Message,
			})
			return
		}
		c.Render(http.StatusOK, render.HTML{
			Template: loginPage,
			Name:     "login",
			Data:     snap.Message,
		})
	}
}

func healthHandler(reader Reader) gin.HandlerFunc {
	return func(c *gin.Context) {
		if reader.Snapshot().Authenticated {
			c.String(http.StatusOK, Healthy)
			return
		}
		c.String(http.StatusOK, Unhealthy)
	}
}
