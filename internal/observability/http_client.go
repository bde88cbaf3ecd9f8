package observability

import (
	"net/http"
	"time"

	sentryhttpclient "github.com/getsentry/sentry-go/httpclient"
)

// DefaultPropagationTargets are the upstream hosts that receive sentry-trace
// and baggage headers.
var DefaultPropagationTargets = []string{
	"api.printful.com",
	"api.stripe.com",
}

type ClientConfig struct {
	Timeout             time.Duration
	PropagationTargets  []string
	MaxIdleConnsPerHost int
}

// NewHTTPClient returns a client whose requests are traced as Sentry child
// spans of the calling context.
func NewHTTPClient(cfg ClientConfig) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	if transport.MaxIdleConnsPerHost <= 0 {
		transport.MaxIdleConnsPerHost = 8
	}
	transport.ResponseHeaderTimeout = cfg.Timeout

	var targets []string
	for _, target := range cfg.PropagationTargets {
		if target != "" {
			targets = append(targets, target)
		}
	}
	if len(targets) == 0 {
		targets = DefaultPropagationTargets
	}

	return &http.Client{
		Timeout: cfg.Timeout,
		Transport: sentryhttpclient.NewSentryRoundTripper(
			transport,
			sentryhttpclient.WithTracePropagationTargets(targets),
		),
	}
}
