// Package httpx holds the JSON plumbing shared by handlers.
package httpx

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-bookstore/internal/apperr"
)

// maxBody caps JSON request bodies.
const maxBody = 1 << 20

// Schema is a compiled JSON schema for a request body.
type Schema struct {
	s *gojsonschema.Schema
}

// MustSchema compiles a schema literal; it panics on an invalid schema since
// schemas are package-level constants.
func MustSchema(src string) *Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile schema: %v", err))
	}
	return &Schema{s: s}
}

// DecodeJSON reads the request body, validates it against schema (if given)
// and unmarshals it into v. Failures are Validation errors.
func DecodeJSON(r *http.Request, schema *Schema, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return apperr.Wrap(apperr.Validation, "invalid request body", err)
	}
	if len(body) == 0 {
		return apperr.New(apperr.Validation, "request body is required")
	}
	if schema != nil {
		result, err := schema.s.Validate(gojsonschema.NewBytesLoader(body))
		if err != nil {
			return apperr.Wrap(apperr.Validation, "invalid JSON body", err)
		}
		if !result.Valid() {
			msgs := make([]string, 0, len(result.Errors()))
			for _, e := range result.Errors() {
				msgs = append(msgs, e.String())
			}
			return apperr.New(apperr.Validation, strings.Join(msgs, "; "))
		}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apperr.Wrap(apperr.Validation, "invalid JSON body", err)
	}
	return nil
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err onto the {message} shape. Server-side kinds are logged
// with their cause; nothing but the message reaches the client.
func WriteError(w http.ResponseWriter, logger *zap.SugaredLogger, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := kind.Status()
	if logger != nil {
		if status >= http.StatusInternalServerError {
			logger.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "kind", kind.Error(), "err", err)
		} else {
			logger.Debugw("request rejected", "method", r.Method, "path", r.URL.Path, "kind", kind.Error(), "err", err)
		}
	}
	WriteJSON(w, status, map[string]string{"message": apperr.Message(err)})
}
