package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-bookstore/internal/auth"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/book"
	bookrepo "github.com/ovaphlow/pitchfork/service-bookstore/internal/book/repo"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/content"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/order"
	orderrepo "github.com/ovaphlow/pitchfork/service-bookstore/internal/order/repo"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/payment"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/router"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/storage"
	"github.com/ovaphlow/pitchfork/service-bookstore/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-bookstore/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-bookstore/pkg/database"
	"github.com/ovaphlow/pitchfork/service-bookstore/pkg/utilities"
)

func main() {
	// best-effort: without a .env the real environment is used
	_ = godotenv.Load()

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-bookstore")

	dbCfg := database.ConfigFromEnv()
	db, err := database.Open(dbCfg)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if os.Getenv("MIGRATE_ON_START") != "0" {
		applied, err := database.Migrate(ctx, db)
		if err != nil {
			sugar.Fatalf("migrate: %v", err)
		}
		sugar.Infow("migrations applied", "files", applied)
	}

	authCfg := auth.ConfigFromEnv()
	tokens, err := auth.NewTokenService(authCfg)
	if err != nil {
		sugar.Fatalf("auth: %v", err)
	}

	blobs, err := storage.New(storage.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("storage: %v", err)
	}
	var thumbs book.ThumbnailSource
	if src, ok := blobs.(book.ThumbnailSource); ok {
		thumbs = src
	}

	users := user.NewUserService(userrepo.NewUserRepo(db, dbCfg.QueryTimeout), nil)
	books := book.NewService(bookrepo.NewBookRepo(db, dbCfg.QueryTimeout), blobs, sugar)
	orders := orderrepo.NewOrderRepo(db, dbCfg.QueryTimeout)

	payCfg := payment.ConfigFromEnv()
	engine := payment.NewEngine(books, orders, payment.NewGateway(payCfg, sugar), payCfg, sugar)

	trustProxy, _ := strconv.ParseBool(os.Getenv("TRUST_PROXY"))
	limiter := router.NewIPRateLimiter(authCfg.RateRPS, authCfg.RateBurst, trustProxy)
	go limiter.Run(ctx, 5*time.Minute)

	handler := router.RegisterRoutes(router.Deps{
		Logger:      sugar,
		DB:          db,
		Auth:        auth.NewAuthenticator(tokens, users, sugar),
		AuthLimiter: limiter,
		Users:       user.NewHandler(users, tokens, sugar),
		Books:       book.NewHandler(books, thumbs, sugar),
		Orders:      order.NewHandler(orders, sugar),
		Payments:    payment.NewHandler(engine, sugar),
		Content:     content.NewGate(books, blobs, sugar),
	})

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = "0.0.0.0:8431"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Infow("listening", "addr", addr)

	<-ctx.Done()

	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}
