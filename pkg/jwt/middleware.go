package jwt

import (
	"net/http"
	"strings"
)

// TokenExtractor pulls a raw token out of an incoming request.
type TokenExtractor func(r *http.Request) (string, error)

// BearerTokenExtractor reads the token from the Authorization header.
func BearerTokenExtractor(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", ErrNoTokenFound
	}
	scheme, token, found := strings.Cut(auth, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", ErrNoTokenFound
	}
	return token, nil
}

// Middleware verifies the request token and stores the parsed claims in the
// request context. Failures are delegated to errorHandler; when it is nil the
// middleware responds 401 with a plain status text.
func Middleware[T any](svc *Service, extract TokenExtractor, errorHandler func(w http.ResponseWriter, r *http.Request, err error)) func(http.Handler) http.Handler {
	if extract == nil {
		extract = BearerTokenExtractor
	}
	if errorHandler == nil {
		errorHandler = func(w http.ResponseWriter, r *http.Request, _ error) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := extract(r)
			if err != nil {
				errorHandler(w, r, err)
				return
			}
			var claims T
			if err := svc.Parse(token, &claims); err != nil {
				errorHandler(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(SetClaimsToContext(r.Context(), claims)))
		})
	}
}
