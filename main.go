package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Abhiram-108/minitrello/activity"
	"github.com/Abhiram-108/minitrello/api"
	"github.com/Abhiram-108/minitrello/gateway"
	"github.com/Abhiram-108/minitrello/session"
	"github.com/Abhiram-108/minitrello/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	shutdownTracing := setupTracing(envFloat("TRACE_SAMPLE_RATIO", 1))

	storeCfg := storage.ConfigFromEnv()
	store, closeStore, err := storage.Open(storeCfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	closers := []func() error{closeStore}

	var exporter activity.Exporter
	if storeCfg.Backend == storage.BackendAzure && storeCfg.ActivityQueue != "" {
		qe, err := storage.NewQueueExporter(storeCfg.ConnectionString, storeCfg.ActivityQueue)
		if err != nil {
			log.Fatalf("activity queue: %v", err)
		}
		exporter = qe
	}

	registry := session.NewRegistry(logger)
	recorder := activity.NewRecorder(store, exporter, logger).
		WithExportTimeout(envDur("ACTIVITY_EXPORT_TIMEOUT", activity.DefaultExportTimeout))
	mutationTimeout := envDur("MUTATION_TIMEOUT", gateway.DefaultTimeout)
	gw := gateway.New(store, registry, registry.Broadcaster(), recorder, logger).
		WithTimeout(mutationTimeout)

	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		rc := redis.NewClient(redisOptions(redisConn))
		closers = append(closers, rc.Close)
		gw.WithDeduper(api.NewRedisDeduper(rc, envDur("DEDUPER_TTL", 24*time.Hour)))
	} else {
		log.Warn("REDIS_CONNECTION_STRING not set, request ids are not deduplicated")
	}

	auth := newAuth()
	resolver := api.NewIdentityResolver(auth, store, logger).WithTimeout(mutationTimeout)
	srv := api.NewServer(registry, gw, resolver, recorder, api.Config{
		SendBuffer:     envInt("SEND_BUFFER", api.DefaultSendBuffer),
		PingInterval:   envDur("PING_INTERVAL", api.DefaultPingInterval),
		TypingRate:     envFloat("TYPING_RATE_PER_SEC", 0),
		AllowedOrigins: envList("ALLOWED_ORIGINS", []string{"*"}),
	}, logger).WithComments(store)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: envList("ALLOWED_ORIGINS", []string{"*"}),
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	api.Register(e, srv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listenAddr := ":" + envString("PORT", "8080")
	go func() {
		if err := e.Start(listenAddr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()
	log.WithField("addr", listenAddr).Info("board sync listening")

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
	registry.Close()
	recorder.Wait()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.WithError(err).Warn("tracer shutdown")
	}
	for _, c := range closers {
		if err := c(); err != nil {
			log.WithError(err).Warn("close")
		}
	}
}

func newAuth() *api.Auth {
	if os.Getenv("AUTH0_TEST_MODE") == "1" || os.Getenv("LOCAL_AUTH_MODE") != "" {
		return api.NewAuth(nil, os.Getenv("AUTH0_AUDIENCE"), "")
	}
	jwtAudience := os.Getenv("AUTH0_AUDIENCE")
	domain := os.Getenv("AUTH0_DOMAIN")
	if jwtAudience == "" || domain == "" {
		log.Fatal("missing Auth0 config")
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
	if err != nil {
		log.Fatalf("jwks: %v", err)
	}
	return api.NewAuth(jwks, jwtAudience, "https://"+domain+"/")
}
