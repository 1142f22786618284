package router

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-bookstore/internal/auth"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/book"
	bookentity "github.com/ovaphlow/pitchfork/service-bookstore/internal/book/entity"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/content"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/order"
	orderentity "github.com/ovaphlow/pitchfork/service-bookstore/internal/order/entity"
	orderrepo "github.com/ovaphlow/pitchfork/service-bookstore/internal/order/repo"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/payment"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/storage"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/user"
	userentity "github.com/ovaphlow/pitchfork/service-bookstore/internal/user/entity"
)

// world is one in-memory database shared by every fake store.
type world struct {
	mu     sync.Mutex
	users  map[int64]*userentity.User
	books  map[string]bookentity.Book
	orders map[string]*orderentity.Order
	access map[int64]map[string]bool
	nextID int64
}

func newWorld() *world {
	return &world{
		users:  map[int64]*userentity.User{},
		books:  map[string]bookentity.Book{},
		orders: map[string]*orderentity.Order{},
		access: map[int64]map[string]bool{},
	}
}

// users

type userStore struct{ *world }

func (s userStore) Create(_ context.Context, u *userentity.User) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, x := range s.users {
		if strings.EqualFold(x.Email, u.Email) {
			return 0, &pq.Error{Code: "23505"}
		}
	}
	s.nextID++
	u.ID = s.nextID
	cp := *u
	s.users[u.ID] = &cp
	return u.ID, nil
}

func (s userStore) GetByEmail(_ context.Context, email string) (*userentity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, x := range s.users {
		if strings.EqualFold(x.Email, email) {
			cp := *x
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s userStore) GetByID(_ context.Context, id int64) (*userentity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	x, ok := s.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *x
	return &cp, nil
}

func (s userStore) IncrementFailedLogin(context.Context, int64) (int, error) { return 1, nil }
func (s userStore) LockIfThreshold(context.Context, int64, int, int) (bool, error) {
	return false, nil
}
func (s userStore) ResetLoginSuccess(context.Context, int64) error { return nil }
func (s userStore) UnlockIfExpired(context.Context, int64) (bool, error) { return false, nil }

func (s userStore) PromoteToAdmin(_ context.Context, email string) (*userentity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, x := range s.users {
		if strings.EqualFold(x.Email, email) {
			x.Role = userentity.RoleAdmin
			x.Version++
			cp := *x
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s userStore) AccessSet(_ context.Context, userID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []string{}
	for id := range s.access[userID] {
		out = append(out, id)
	}
	return out, nil
}

// books

type bookStore struct{ *world }

func (s bookStore) Create(_ context.Context, b *bookentity.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.CreatedAt = time.Now()
	s.books[b.ID] = *b
	return nil
}

func (s bookStore) Get(_ context.Context, id string) (*bookentity.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &b, nil
}

func (s bookStore) List(context.Context, int, int) ([]bookentity.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []bookentity.Book{}
	for _, b := range s.books {
		out = append(out, b)
	}
	return out, nil
}

func (s bookStore) Update(_ context.Context, b *bookentity.Book) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[b.ID] = *b
	return 1, nil
}

func (s bookStore) Delete(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.books, id)
	return 1, nil
}

// orders

type ledger struct{ *world }

func (l ledger) Create(_ context.Context, o *orderentity.Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	o.Status = orderentity.StatusCreated
	cp := *o
	l.orders[o.GatewayOrderID] = &cp
	return nil
}

func (l ledger) find(k orderentity.Key) *orderentity.Order {
	o := l.orders[k.GatewayOrderID]
	if o == nil || o.UserID != k.UserID || o.BookID != k.BookID {
		return nil
	}
	return o
}

func (l ledger) MarkFailed(_ context.Context, k orderentity.Key) (*orderentity.Order, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o := l.find(k)
	if o == nil {
		return nil, false, sql.ErrNoRows
	}
	changed := o.Status == orderentity.StatusCreated
	if changed {
		o.Status = orderentity.StatusFailed
	}
	cp := *o
	return &cp, changed, nil
}

func (l ledger) Settle(_ context.Context, k orderentity.Key, paymentID string) (*orderrepo.SettleResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o := l.find(k)
	if o == nil {
		return nil, sql.ErrNoRows
	}
	res := &orderrepo.SettleResult{}
	switch o.Status {
	case orderentity.StatusFailed:
		return res, orderrepo.ErrAlreadyFailed
	case orderentity.StatusSuccess:
		res.Idempotent = true
	default:
		o.Status = orderentity.StatusSuccess
		o.GatewayPaymentID = &paymentID
	}
	if l.access[k.UserID] == nil {
		l.access[k.UserID] = map[string]bool{}
	}
	res.Granted = !l.access[k.UserID][k.BookID]
	l.access[k.UserID][k.BookID] = true
	cp := *o
	res.Order = &cp
	return res, nil
}

func (l ledger) ReconcileGrants(context.Context) (int64, error) { return 0, nil }

func (l ledger) ListByUser(_ context.Context, userID int64) ([]orderentity.View, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []orderentity.View{}
	for _, o := range l.orders {
		if o.UserID == userID {
			out = append(out, orderentity.View{Order: *o})
		}
	}
	return out, nil
}

func (l ledger) ListAll(context.Context, int) ([]orderentity.View, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []orderentity.View{}
	for _, o := range l.orders {
		out = append(out, orderentity.View{Order: *o})
	}
	return out, nil
}

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

const paySecret = "rzp_secret"

type app struct {
	t       *testing.T
	srv     *httptest.Server
	world   *world
	users   *user.UserService
	limiter *IPRateLimiter
}

func newApp(t *testing.T) *app {
	t.Helper()
	lg := zap.NewNop().Sugar()
	w := newWorld()

	disk, err := storage.NewDisk(t.TempDir())
	require.NoError(t, err)
	tokens, err := auth.NewTokenService(auth.Config{Secret: "jwt", TTL: time.Hour, Issuer: "test"})
	require.NoError(t, err)

	users := user.NewUserService(userStore{w}, user.BcryptHasher{Cost: 4})
	books := book.NewService(bookStore{w}, disk, lg)
	cfg := payment.Config{KeySecret: paySecret, Currency: "INR", Mode: "mock"}
	engine := payment.NewEngine(books, ledger{w}, payment.NewGateway(cfg, lg), cfg, lg)
	limiter := NewIPRateLimiter(1000, 1000, false)

	h := RegisterRoutes(Deps{
		Logger:      lg,
		DB:          pinger{},
		Auth:        auth.NewAuthenticator(tokens, users, lg),
		AuthLimiter: limiter,
		Users:       user.NewHandler(users, tokens, lg),
		Books:       book.NewHandler(books, disk, lg),
		Orders:      order.NewHandler(ledger{w}, lg),
		Payments:    payment.NewHandler(engine, lg),
		Content:     content.NewGate(books, disk, lg),
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &app{t: t, srv: srv, world: w, users: users, limiter: limiter}
}

func (a *app) do(method, path, token string, body any) (int, map[string]any, http.Header) {
	a.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(a.t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, r)
	require.NoError(a.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(a.t, err)
	out := map[string]any{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(a.t, json.Unmarshal(raw, &out), string(raw))
	} else {
		out["raw"] = string(raw)
	}
	return resp.StatusCode, out, resp.Header
}

func (a *app) register(name, email string) string {
	a.t.Helper()
	code, body, _ := a.do(http.MethodPost, "/auth/register", "", map[string]string{"name": name, "email": email, "password": "secret99"})
	require.Equal(a.t, http.StatusCreated, code, body)
	return body["token"].(string)
}

func (a *app) seedBook(id string, price int64) {
	a.world.mu.Lock()
	defer a.world.mu.Unlock()
	a.world.books[id] = bookentity.Book{ID: id, Title: "Book " + id, Description: "d", Price: price, ContentRef: "https://cdn.example.com/pdfs/" + id + ".pdf"}
}

func TestPurchaseFlow(t *testing.T) {
	a := newApp(t)
	a.seedBook("b1", 500)
	buyer := a.register("Buyer", "buyer@example.com")

	code, _, _ := a.do(http.MethodGet, "/items/b1/content", buyer, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, intent, _ := a.do(http.MethodPost, "/payments/create-order", buyer, map[string]any{"itemId": "b1", "amount": 1})
	require.Equal(t, http.StatusOK, code, intent)
	assert.Equal(t, float64(50000), intent["amount"])
	assert.Equal(t, "INR", intent["currency"])
	gwOrder := intent["gatewayOrderId"].(string)

	confirm := map[string]string{
		"itemId":           "b1",
		"gatewayOrderId":   gwOrder,
		"gatewayPaymentId": "pay_1",
		"signature":        payment.Sign(paySecret, gwOrder, "pay_1"),
	}
	code, body, _ := a.do(http.MethodPost, "/payments/verify", buyer, confirm)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "Payment verified", body["message"])

	code, body, _ = a.do(http.MethodPost, "/payments/verify", buyer, confirm)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "Payment already verified", body["message"])

	code, _, hdr := a.do(http.MethodGet, "/items/b1/content", buyer, nil)
	assert.Equal(t, http.StatusFound, code)
	assert.Equal(t, "https://cdn.example.com/pdfs/b1.pdf", hdr.Get("Location"))

	code, body, _ = a.do(http.MethodGet, "/orders/my", buyer, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["orders"], 1)

	// another account cannot reuse the confirmation
	other := a.register("Other", "other@example.com")
	code, _, _ = a.do(http.MethodPost, "/payments/verify", other, confirm)
	assert.Equal(t, http.StatusNotFound, code)
	code, _, _ = a.do(http.MethodGet, "/books/b1/pdf", other, nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestForgedSignatureFailsOrder(t *testing.T) {
	a := newApp(t)
	a.seedBook("b1", 500)
	buyer := a.register("Buyer", "buyer@example.com")

	_, intent, _ := a.do(http.MethodPost, "/payments/create-order", buyer, map[string]any{"itemId": "b1"})
	gwOrder := intent["gatewayOrderId"].(string)
	sig := []byte(payment.Sign(paySecret, gwOrder, "pay_1"))
	sig[0] ^= 1

	code, body, _ := a.do(http.MethodPost, "/payments/verify", buyer, map[string]string{
		"itemId": "b1", "gatewayOrderId": gwOrder, "gatewayPaymentId": "pay_1", "signature": string(sig),
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Payment verification failed", body["message"])
	a.world.mu.Lock()
	status := a.world.orders[gwOrder].Status
	a.world.mu.Unlock()
	assert.Equal(t, orderentity.StatusFailed, status)

	code, _, _ = a.do(http.MethodGet, "/items/b1/content", buyer, nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestAdminCapabilities(t *testing.T) {
	a := newApp(t)
	buyer := a.register("Buyer", "buyer@example.com")
	code, _, _ := a.do(http.MethodGet, "/orders", buyer, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _, _ = a.do(http.MethodDelete, "/items/x", buyer, nil)
	assert.Equal(t, http.StatusForbidden, code)

	_, err := a.users.PromoteToAdmin(context.Background(), "buyer@example.com")
	require.NoError(t, err)

	// the promotion bumps the version, so the old token is revoked
	code, _, _ = a.do(http.MethodGet, "/orders", buyer, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body, _ := a.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "buyer@example.com", "password": "secret99"})
	require.Equal(t, http.StatusOK, code)
	admin := body["token"].(string)
	code, _, _ = a.do(http.MethodGet, "/orders", admin, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestHealthAndFallback(t *testing.T) {
	a := newApp(t)
	code, body, hdr := a.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, map[string]any{"state": "connected"}, body["db"])
	assert.NotEmpty(t, hdr.Get("X-Request-Id"))
	assert.Equal(t, "nosniff", hdr.Get("X-Content-Type-Options"))

	code, body, _ = a.do(http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Route not found", body["message"])
}

func TestHealthReportsDisconnected(t *testing.T) {
	rec := httptest.NewRecorder()
	health(pinger{err: errors.New("down")})(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Contains(t, rec.Body.String(), `"state":"disconnected"`)
}

func TestAuthRateLimit(t *testing.T) {
	l := NewIPRateLimiter(1, 2, false)
	calls := 0
	h := l.Wrap(zap.NewNop().Sugar(), func(w http.ResponseWriter, r *http.Request) { calls++ })

	codes := []int{}
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
	assert.Equal(t, 2, calls)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	h(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLimiterSweep(t *testing.T) {
	l := NewIPRateLimiter(1, 1, true)
	now := time.Now()
	l.now = func() time.Time { return now }
	l.Allow("a")
	now = now.Add(time.Hour)
	l.Allow("b")
	assert.Equal(t, 1, l.Sweep())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", l.clientIP(req))
}

func TestRecoverMiddleware(t *testing.T) {
	h := RecoverMiddleware(zap.NewNop().Sugar())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"message":"Internal server error"}`, rec.Body.String())
}
