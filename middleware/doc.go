// Package middleware provides net/http integration for rotor engines.
package middleware
