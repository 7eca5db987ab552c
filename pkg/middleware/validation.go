// pkg/middleware/validation.go

package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"laddertrade/internal/logger"
)

// ErrorResponse стандартный формат для ошибок API
type ErrorResponse struct {
	Error string      `json:"error"`
	Field string      `json:"field,omitempty"`
	Value interface{} `json:"value,omitempty"`
}

// ValidateRequest проверяет Content-Type и размер тела для POST/PUT запросов
func ValidateRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			contentType := r.Header.Get("Content-Type")
			if contentType != "" && !strings.Contains(contentType, "application/json") {
				WriteError(w, http.StatusBadRequest, "Invalid Content-Type, expected application/json", "")
				return
			}
		}

		const maxSize = 1 << 20 // 1 MB
		r.Body = http.MaxBytesReader(w, r.Body, maxSize)

		next.ServeHTTP(w, r)
	})
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn(context.Background(), "WriteJSON: encode failed", "error", err)
	}
}

func WriteError(w http.ResponseWriter, status int, msg, field string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Field: field})
}

// HandleValidationError отвечает 400 и называет первое невалидное поле
func HandleValidationError(w http.ResponseWriter, err error) {
	logger.Debug(context.Background(), "Validation error", "error", err)

	resp := ErrorResponse{Error: err.Error()}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		resp.Field = fe.Field()
		resp.Error = fe.Field() + " failed '" + fe.Tag() + "' validation"
		resp.Value = fe.Value()
	}
	WriteJSON(w, http.StatusBadRequest, resp)
}
