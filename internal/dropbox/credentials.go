package dropbox

import "sync/atomic"

// Credentials holds the current bearer token for a client instance. Exactly
// one value is current at any instant; a successful refresh replaces it in
// place and the new value is visible to every subsequent request.
//
// Reads and replacements are safe from concurrent requests, but duplicate
// refreshes are not deduplicated: two requests that both observe an expired
// token may each refresh, and the last replacement wins. That matches the
// service contract — any live token is as good as any other.
type Credentials struct {
	token atomic.Value // string
}

// NewCredentials returns a credential store seeded with the given token.
func NewCredentials(token string) *Credentials {
	c := &Credentials{}
	c.token.Store(token)

	return c
}

// Current returns the bearer token to use for the next request.
func (c *Credentials) Current() string {
	tok, _ := c.token.Load().(string)

	return tok
}

// Replace installs a new bearer token, making it current for all future
// reads, including those from requests already in flight.
func (c *Credentials) Replace(token string) {
	c.token.Store(token)
}
