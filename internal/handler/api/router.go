package api

import (
	xhttp "ZWatch/pkg/http"

	"github.com/labstack/echo/v4"
)

// Router fans route registration out over every mounted handler so the HTTP
// server only sees a single registration point.
type Router struct {
	handlers []xhttp.Handler
}

func NewRouter(handlers ...xhttp.Handler) *Router {
	return &Router{handlers: handlers}
}

func (r *Router) RegisterRoutes(e *echo.Echo) {
	for _, h := range r.handlers {
		h.RegisterRoutes(e)
	}
}
