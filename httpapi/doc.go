// Package httpapi maps the engine's operations onto HTTP endpoints:
// login, refresh, logout, and logout-everywhere. Internally distinct
// rejection kinds collapse to a single opaque 401 body on the wire.
package httpapi
