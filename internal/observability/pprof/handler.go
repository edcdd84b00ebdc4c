package pprof

import (
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
)

const (
	defaultAddr   = "127.0.0.1:6060"
	defaultPrefix = "/debug/pprof/"
)

// routes builds the handler tree: the pprof index and its fixed-path
// helpers under prefix, plus a bare /healthz liveness probe. The whole
// tree sits behind token auth when a token is configured.
func routes(prefix, token string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	bare := strings.TrimSuffix(prefix, "/")
	mux.Handle(prefix, indexAt(prefix))
	mux.HandleFunc(bare+"/cmdline", hpprof.Cmdline)
	mux.HandleFunc(bare+"/profile", hpprof.Profile)
	mux.HandleFunc(bare+"/symbol", hpprof.Symbol)
	mux.HandleFunc(bare+"/trace", hpprof.Trace)
	if bare != "" {
		mux.Handle(bare, http.RedirectHandler(prefix, http.StatusPermanentRedirect))
	}

	return requireToken(token, mux)
}

// requireToken admits requests carrying the token as a bearer credential
// or a token query parameter. An empty token disables the check.
func requireToken(token string, next http.Handler) http.Handler {
	token = strings.TrimSpace(token)
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == token {
			next.ServeHTTP(w, r)
			return
		}
		if rest, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
			if strings.TrimSpace(rest) == token {
				next.ServeHTTP(w, r)
				return
			}
		}
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

// normalizePrefix forces a leading and trailing slash; empty means the
// conventional /debug/pprof/.
func normalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		return defaultPrefix
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// indexAt serves the pprof index from a custom prefix. The stdlib index
// handler hardcodes /debug/pprof/ in the links it renders and the profile
// names it parses, so requests are re-rooted before handing over.
func indexAt(prefix string) http.Handler {
	canon := normalizePrefix(prefix)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clone := r.Clone(r.Context())
		clone.URL.Path = defaultPrefix + strings.TrimPrefix(r.URL.Path, canon)
		hpprof.Index(w, clone)
	})
}

// LoopbackAddr reports whether a host:port bind address is reachable only
// from the local machine. An empty host binds every interface and does
// not count.
func LoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
