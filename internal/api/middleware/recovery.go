package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"scalper/pkg/utils"
)

// Recovery перехватывает panic в handlers
//
// Паника логируется со stack trace, клиент получает 500, сервер продолжает
// обслуживать запросы.
func Recovery(log *utils.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = utils.L()
	}
	log = log.WithComponent("http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error("panic in http handler",
						utils.String("panic", fmt.Sprint(err)),
						utils.String("path", r.URL.Path),
						utils.String("stack", string(debug.Stack())))

					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
