package transport

import "net/http"

// Auth decorates outgoing requests with credentials.
type Auth interface {
	Apply(req *http.Request)
}

// NoAuth represents no authentication.
type NoAuth struct{}

func (a NoAuth) Apply(req *http.Request) {}

// BearerToken uses Bearer token authentication.
type BearerToken struct {
	Token string
}

// Apply adds Bearer token header to the request.
func (a BearerToken) Apply(req *http.Request) {
	if a.Token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+a.Token)
}

// SessionToken returns the raw token so SOAP envelopes can carry it in their
// session header.
func (a BearerToken) SessionToken() string { return a.Token }

// SessionSource supplies the raw session token for APIs that carry it in the
// message body instead of a header.
type SessionSource interface {
	SessionToken() string
}
