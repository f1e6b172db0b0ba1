package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures CORS.
type CORSConfig struct {
	// Origins allowed to call the API. Empty or "*" allows any origin.
	Origins []string
	// Methods defaults to the verbs the API serves.
	Methods []string
	// Headers defaults to echoing Access-Control-Request-Headers.
	Headers       []string
	ExposeHeaders []string
	// Credentials never combines with a wildcard origin: the caller's origin
	// is echoed instead.
	Credentials bool
	MaxAge      int
}

var defaultCORSMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
}

// CORS answers preflight requests and decorates actual ones.
func CORS(cfg CORSConfig) Middleware {
	anyOrigin := len(cfg.Origins) == 0
	origins := make(map[string]string, len(cfg.Origins))
	for _, o := range cfg.Origins {
		if o == "*" {
			anyOrigin = true
			continue
		}
		origins[strings.ToLower(o)] = o
	}
	echoOrigin := anyOrigin && cfg.Credentials

	methods := cfg.Methods
	if len(methods) == 0 {
		methods = defaultCORSMethods
	}
	allowMethods := strings.Join(methods, ", ")
	allowHeaders := strings.Join(cfg.Headers, ", ")
	exposeHeaders := strings.Join(cfg.ExposeHeaders, ", ")
	var maxAge string
	if cfg.MaxAge != 0 {
		maxAge = strconv.Itoa(max(cfg.MaxAge, 0))
	}

	allowed := func(origin string) string {
		switch {
		case echoOrigin:
			return origin
		case anyOrigin:
			return "*"
		}
		return origins[strings.ToLower(origin)]
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			origin := r.Header.Get("Origin")
			if !anyOrigin || echoOrigin {
				h.Add("Vary", "Origin")
			}
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			allow := allowed(origin)

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Add("Vary", "Access-Control-Request-Method")
				h.Add("Vary", "Access-Control-Request-Headers")
				if allow != "" {
					h.Set("Access-Control-Allow-Origin", allow)
					h.Set("Access-Control-Allow-Methods", allowMethods)
					switch reqHeaders := r.Header.Get("Access-Control-Request-Headers"); {
					case allowHeaders != "":
						h.Set("Access-Control-Allow-Headers", allowHeaders)
					case reqHeaders != "":
						h.Set("Access-Control-Allow-Headers", reqHeaders)
					}
					if cfg.Credentials {
						h.Set("Access-Control-Allow-Credentials", "true")
					}
					if maxAge != "" {
						h.Set("Access-Control-Max-Age", maxAge)
					}
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if allow != "" {
				h.Set("Access-Control-Allow-Origin", allow)
				if cfg.Credentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
				if exposeHeaders != "" {
					h.Set("Access-Control-Expose-Headers", exposeHeaders)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
