package middleware

import (
	"net/http"
	"strings"
	"sync"

	"scalper/pkg/crypto"
)

// BearerAuth - проверка bearer токена по bcrypt хешу
//
// Токен берётся из заголовка Authorization: Bearer <token>, для WebSocket
// клиентов из браузера допускается query-параметр token. Пустой хеш
// отключает проверку (локальное развёртывание).
//
// bcrypt медленный, поэтому уже проверенные токены запоминаются.
func BearerAuth(tokenHash string) func(http.Handler) http.Handler {
	var verified sync.Map

	return func(next http.Handler) http.Handler {
		if tokenHash == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="scalper"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if _, ok := verified.Load(token); !ok {
				if !crypto.TokenMatches(token, tokenHash) {
					w.Header().Set("WWW-Authenticate", `Bearer realm="scalper", error="invalid_token"`)
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
					return
				}
				verified.Store(token, struct{}{})
			}

			next.ServeHTTP(w, r)
		})
	}
}

func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, found := strings.Cut(h, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
