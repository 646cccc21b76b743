// Package router assembles the gin routes of the upload service.
package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Group is a set of routes sharing a prefix and middleware. Groups are
// collected first and mounted on the engine by Router.Setup.
type Group struct {
	name       string
	prefix     string
	middleware []gin.HandlerFunc
	routes     []route
}

type route struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// NewGroup starts an empty group mounted at prefix
func NewGroup(name, prefix string) *Group {
	return &Group{name: name, prefix: prefix}
}

// Name identifies the group in tests and logs
func (g *Group) Name() string { return g.name }

// Use adds middleware applied to every route of the group
func (g *Group) Use(mw ...gin.HandlerFunc) *Group {
	g.middleware = append(g.middleware, mw...)
	return g
}

// Handle adds a route
func (g *Group) Handle(method, path string, handlers ...gin.HandlerFunc) *Group {
	g.routes = append(g.routes, route{method: method, path: path, handlers: handlers})
	return g
}

// GET adds a GET route
func (g *Group) GET(path string, handlers ...gin.HandlerFunc) *Group {
	return g.Handle(http.MethodGet, path, handlers...)
}

// POST adds a POST route
func (g *Group) POST(path string, handlers ...gin.HandlerFunc) *Group {
	return g.Handle(http.MethodPost, path, handlers...)
}

// DELETE adds a DELETE route
func (g *Group) DELETE(path string, handlers ...gin.HandlerFunc) *Group {
	return g.Handle(http.MethodDelete, path, handlers...)
}

func (g *Group) mount(parent *gin.RouterGroup) {
	rg := parent.Group(g.prefix, g.middleware...)
	for _, r := range g.routes {
		rg.Handle(r.method, r.path, r.handlers...)
	}
}

// Router mounts groups on an engine under an optional base path
type Router struct {
	engine *gin.Engine
	base   string
	groups []*Group
}

// Option configures a Router
type Option func(*Router)

// WithBasePath mounts every group under a prefix such as "/sync". Without
// it groups mount at the root, which is where the upload form lives.
func WithBasePath(path string) Option {
	return func(r *Router) { r.base = path }
}

// NewRouter creates a Router for engine
func NewRouter(engine *gin.Engine, opts ...Option) *Router {
	r := &Router{engine: engine}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add queues groups for Setup
func (r *Router) Add(groups ...*Group) *Router {
	r.groups = append(r.groups, groups...)
	return r
}

// BasePath returns the normalized mount prefix
func (r *Router) BasePath() string {
	return "/" + strings.Trim(r.base, "/")
}

// Setup mounts the queued groups
func (r *Router) Setup() {
	root := r.engine.Group(r.BasePath())
	for _, g := range r.groups {
		g.mount(root)
	}
}
