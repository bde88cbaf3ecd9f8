package handlers

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const (
	requestIDHeader    = "X-Request-ID"
	maxRequestIDLength = 128
)

// requestMeta is what the logging and metrics middleware know about a
// request before it is served. It is computed once per request.
type requestMeta struct {
	ID            string
	Method        string
	Path          string
	Route         string
	ClientIP      string
	UserAgent     string
	Referer       string
	ContentLength int64
}

type requestMetaKey struct{}

// requestMetaFor returns the meta stored by an outer middleware, or builds
// it from the request.
func requestMetaFor(r *http.Request) requestMeta {
	if meta, ok := r.Context().Value(requestMetaKey{}).(requestMeta); ok {
		return meta
	}
	return requestMeta{
		ID:            requestID(r),
		Method:        r.Method,
		Path:          r.URL.Path,
		Route:         routeLabel(r),
		ClientIP:      clientIP(r),
		UserAgent:     strings.TrimSpace(r.UserAgent()),
		Referer:       strings.TrimSpace(r.Referer()),
		ContentLength: r.ContentLength,
	}
}

func withRequestMeta(ctx context.Context, meta requestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

func (m requestMeta) metricRoute() string {
	if m.Route == "" {
		return "unknown"
	}
	return m.Route
}

func (m requestMeta) logAttrs() []any {
	args := []any{
		"request_id", m.ID,
		"method", m.Method,
		"path", m.Path,
		"remote_ip", m.ClientIP,
	}
	if m.Route != "" {
		args = append(args, "route", m.Route)
	}
	if m.UserAgent != "" {
		args = append(args, "user_agent", m.UserAgent)
	}
	if m.Referer != "" {
		args = append(args, "referer", m.Referer)
	}
	if m.ContentLength >= 0 {
		args = append(args, "content_length", m.ContentLength)
	}
	return args
}

func (m requestMeta) meterAttrs() []attribute.Builder {
	attrs := []attribute.Builder{
		attribute.String("http.request_id", m.ID),
		attribute.String("http.method", m.Method),
		attribute.String("http.route", m.metricRoute()),
		attribute.String("network.client.ip", m.ClientIP),
	}
	if m.UserAgent != "" {
		attrs = append(attrs, attribute.String("http.user_agent", m.UserAgent))
	}
	if m.ContentLength >= 0 {
		attrs = append(attrs, attribute.Int64("http.request_content_length", m.ContentLength))
	}
	return attrs
}

// requestID echoes a caller-supplied id when it is short and printable.
func requestID(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(requestIDHeader))
	if id == "" || len(id) > maxRequestIDLength {
		return uuid.NewString()
	}
	for _, c := range id {
		if c < 0x21 || c > 0x7e {
			return uuid.NewString()
		}
	}
	return id
}

// clientIP trusts the first X-Forwarded-For hop; the service runs behind a
// proxy that overwrites it.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-Ip")); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func routeLabel(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	if name := route.GetName(); name != "" {
		return name
	}
	template, _ := route.GetPathTemplate()
	return template
}
