//go:build !swagger

package httpapi

import "github.com/go-chi/chi/v5"

// MountSwagger leaves /swagger unrouted; the chatmate API docs are only
// served by binaries built with the swagger tag.
func MountSwagger(chi.Router) {}
