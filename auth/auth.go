package auth

import "net/http"

type Client interface {
	// Auth authenticates the current user, return user id.
	Auth(r *http.Request) (string, error)
}
