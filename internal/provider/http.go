package provider

import "net/http"

// HTTPClient is the transport seam shared by the HTTP adapters.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
