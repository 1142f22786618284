package router

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-bookstore/internal/auth"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/book"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/content"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/httpx"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/order"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/payment"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/user"
)

const serviceName = "service-bookstore"

// Pinger reports database reachability for the health route.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the handlers and shared services the route table mounts.
type Deps struct {
	Logger      *zap.SugaredLogger
	DB          Pinger
	Auth        *auth.Authenticator
	AuthLimiter *IPRateLimiter
	Users       *user.Handler
	Books       *book.Handler
	Orders      *order.Handler
	Payments    *payment.Handler
	Content     *content.Gate
}

// RegisterRoutes mounts every route on a stdlib ServeMux and wraps it with
// the request-id, logging, recover and security-header middlewares.
func RegisterRoutes(d Deps) http.Handler {
	mux := http.NewServeMux()
	lg := d.Logger
	a := d.Auth
	limited := func(h http.HandlerFunc) http.HandlerFunc {
		if d.AuthLimiter == nil {
			return h
		}
		return d.AuthLimiter.Wrap(lg, h)
	}

	mux.HandleFunc("GET /health", health(d.DB))

	// auth
	mux.HandleFunc("POST /auth/register", limited(d.Users.Register))
	mux.HandleFunc("POST /auth/login", limited(d.Users.Login))
	mux.HandleFunc("GET /auth/me", limited(a.Require(d.Users.Me)))

	// catalog, mounted under both /items and /books
	for _, base := range []string{"/items", "/books"} {
		mux.HandleFunc("GET "+base, d.Books.List)
		mux.HandleFunc("GET "+base+"/{id}", d.Books.Get)
		mux.HandleFunc("POST "+base, a.RequireCapability(auth.ManageCatalog, d.Books.Create))
		mux.HandleFunc("PUT "+base+"/{id}", a.RequireCapability(auth.ManageCatalog, d.Books.Update))
		mux.HandleFunc("DELETE "+base+"/{id}", a.RequireCapability(auth.ManageCatalog, d.Books.Delete))
	}
	mux.HandleFunc("GET /files/thumbnails/{name}", d.Books.Thumbnail)

	// content gate
	mux.HandleFunc("GET /items/{id}/content", a.Require(d.Content.Serve))
	mux.HandleFunc("GET /books/{id}/pdf", a.Require(d.Content.Serve))

	// payments
	mux.HandleFunc("POST /payments/create-order", a.RequireCapability(auth.Purchase, d.Payments.CreateOrder))
	mux.HandleFunc("POST /payments/verify", a.RequireCapability(auth.Purchase, d.Payments.Verify))

	// orders
	mux.HandleFunc("GET /orders/my", a.Require(d.Orders.Mine))
	mux.HandleFunc("GET /orders", a.RequireCapability(auth.ViewAllOrders, d.Orders.All))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusNotFound, map[string]string{"message": "Route not found"})
	})

	var h http.Handler = mux
	h = SecurityHeadersMiddleware()(h)
	h = RecoverMiddleware(lg)(h)
	h = LoggingMiddleware(lg)(h)
	h = RequestIDMiddleware()(h)
	return h
}

func health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := "connected"
		if db == nil {
			state = "unknown"
		} else {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				state = "disconnected"
			}
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"ok":        true,
			"service":   serviceName,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"db":        map[string]string{"state": state},
		})
	}
}
