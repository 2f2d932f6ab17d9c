package providers

import (
	"net/http"
	"time"
)

const defaultTimeout = 60 * time.Second

// newHTTPClient is the transport handed to the vendor SDKs. Retries are left
// to ResilientProvider.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}
