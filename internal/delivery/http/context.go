package http

import (
	"context"
	"net/http"
)

type routeNameKey struct{}

func withRouteName(r *http.Request, name string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), routeNameKey{}, name))
}

func routeName(r *http.Request) string {
	if name, ok := r.Context().Value(routeNameKey{}).(string); ok {
		return name
	}
	return r.URL.Path
}
