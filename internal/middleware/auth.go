// Package middleware содержит HTTP middleware сервиса продажи ключей.
package middleware

import (
	"crypto/hmac"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// WebhookAuth проверяет общий секрет платёжного шлюза в заголовке Authorization.
type WebhookAuth struct {
	token  string
	logger *zap.Logger
}

// NewWebhookAuth создаёт middleware с указанным общим секретом.
func NewWebhookAuth(token string, logger *zap.Logger) *WebhookAuth {
	return &WebhookAuth{
		token:  token,
		logger: logger,
	}
}

// Middleware отклоняет запросы без корректного секрета. Неуспешная
// аутентификация только логируется: запись аудита для неё не создаётся.
func (a *WebhookAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")

		if a.token == "" || !tokenMatches(header, a.token) {
			a.logger.Warn("unauthorized webhook request",
				zap.String("remote", r.RemoteAddr),
			)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// tokenMatches принимает заголовок со схемой ("Apikey X", "Bearer X") или
// голый токен. Сравнение выполняется за постоянное время.
func tokenMatches(header, token string) bool {
	candidate := header
	if i := strings.LastIndexByte(header, ' '); i >= 0 {
		candidate = header[i+1:]
	}

	return hmac.Equal([]byte(candidate), []byte(token))
}
