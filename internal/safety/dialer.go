package safety

import "net/http"

// ProxyDialer fronts the Tor SOCKS proxy and its control channel.
// Both stay external: the rest of the crawler sees only this
// interface.
type ProxyDialer interface {
	// Transport returns the *http.Transport a Fetcher should route
	// requests for a Tor-eligible host through.
	Transport() *http.Transport
	// ViaTor reports whether traffic dialed through this collaborator
	// is actually routed through Tor, for FetchResult.via_tor.
	ViaTor() bool
}

// DirectDialer is the default ProxyDialer used whenever no Tor SOCKS
// proxy is configured: a plain net/http transport, via_tor always
// false.
type DirectDialer struct{}

func NewDirectDialer() DirectDialer {
	return DirectDialer{}
}

func (DirectDialer) Transport() *http.Transport {
	return &http.Transport{}
}

func (DirectDialer) ViaTor() bool {
	return false
}
