package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// CORSConfig configures Cross-Origin Resource Sharing.
type CORSConfig struct {
	Enabled          bool
	AllowedOrigins   []string // "*" allows any origin
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           int // seconds
}

// odataExposeHeaders are readable by browser clients on every allowed
// origin: the protocol version and the request correlation id.
var odataExposeHeaders = []string{"OData-Version", RequestIDHeader}

type corsPolicy struct {
	anyOrigin   bool
	origins     map[string]struct{}
	methods     []string
	credentials bool

	allowMethods string
	allowHeaders string
	expose       string
	maxAge       string
}

func newCORSPolicy(cfg CORSConfig) *corsPolicy {
	p := &corsPolicy{origins: map[string]struct{}{}}
	for _, origin := range cfg.AllowedOrigins {
		switch origin = strings.TrimSpace(origin); origin {
		case "":
		case "*":
			p.anyOrigin = true
		default:
			p.origins[origin] = struct{}{}
		}
	}
	for _, m := range cfg.AllowedMethods {
		if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
			p.methods = append(p.methods, m)
		}
	}
	// Browsers reject credentials alongside a wildcard origin.
	p.credentials = cfg.AllowCredentials && !p.anyOrigin
	p.allowMethods = strings.Join(p.methods, ", ")
	p.allowHeaders = strings.Join(cfg.AllowedHeaders, ", ")
	p.expose = strings.Join(exposeHeaders(cfg.ExposeHeaders), ", ")
	if cfg.MaxAge > 0 {
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	}
	return p
}

func (p *corsPolicy) allowsOrigin(origin string) bool {
	if p.anyOrigin {
		return true
	}
	_, ok := p.origins[origin]
	return ok
}

// allowsMethod accepts any method when none are configured.
func (p *corsPolicy) allowsMethod(method string) bool {
	return len(p.methods) == 0 || slices.Contains(p.methods, strings.ToUpper(method))
}

func (p *corsPolicy) setOrigin(h http.Header, origin string) {
	if p.anyOrigin {
		h.Set("Access-Control-Allow-Origin", "*")
	} else {
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
	}
	if p.credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
}

func (p *corsPolicy) preflight(w http.ResponseWriter, origin, method string) {
	h := w.Header()
	if p.allowsOrigin(origin) && p.allowsMethod(method) {
		p.setOrigin(h, origin)
		if p.allowMethods != "" {
			h.Set("Access-Control-Allow-Methods", p.allowMethods)
		}
		if p.allowHeaders != "" {
			h.Set("Access-Control-Allow-Headers", p.allowHeaders)
		}
		if p.maxAge != "" {
			h.Set("Access-Control-Max-Age", p.maxAge)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// CORSMiddleware answers preflight requests and decorates responses to
// allowed origins. An OPTIONS request without Access-Control-Request-Method
// is not a preflight and reaches the next handler.
func CORSMiddleware(cfg CORSConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	policy := newCORSPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			if requested := r.Header.Get("Access-Control-Request-Method"); r.Method == http.MethodOptions && requested != "" {
				policy.preflight(w, origin, requested)
				return
			}
			if policy.allowsOrigin(origin) {
				policy.setOrigin(w.Header(), origin)
				w.Header().Set("Access-Control-Expose-Headers", policy.expose)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func exposeHeaders(configured []string) []string {
	out := slices.Clone(odataExposeHeaders)
	for _, h := range configured {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if !slices.ContainsFunc(out, func(existing string) bool { return strings.EqualFold(existing, h) }) {
			out = append(out, h)
		}
	}
	return out
}
