package internal

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Aecotyle/authgate/internal/authwatch"
	"github.com/Aecotyle/authgate/internal/config"
	"github.com/Aecotyle/authgate/internal/crypto"
	"github.com/Aecotyle/authgate/internal/log"
	"github.com/Aecotyle/authgate/internal/provider"
	"github.com/Aecotyle/authgate/internal/reqauth"
	"github.com/Aecotyle/authgate/internal/server"
	"github.com/Aecotyle/authgate/internal/session"
)

// AuthGate represents the complete SSR auth gateway application
type AuthGate struct {
	config     config.Config
	httpServer *server.HTTPServer
	broker     *authwatch.Broker
}

// NewAuthGate creates a new gateway application with all dependencies built
func NewAuthGate(cfg config.Config) (*AuthGate, error) {
	log.LogInfoWithFields("authgate", "Building auth gateway", map[string]any{
		"authURL": cfg.AuthURL,
		"baseURL": cfg.BaseURL,
	})

	encryptor, err := crypto.NewEncryptor([]byte(cfg.EncryptionKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create session encryptor: %w", err)
	}

	client := provider.NewClient(cfg.AuthURL, cfg.AnonKey, cfg.ProviderTimeout)
	broker := authwatch.NewBroker()

	// Transparent refreshes also count as session changes.
	loader := reqauth.NewLoader(client, encryptor, cfg.SessionCookie, func(s *session.Session) {
		broker.Publish(authwatch.Notification{
			Event:  authwatch.EventTokenRefreshed,
			Expiry: s.Expiry(),
		})
	})

	handlers := server.NewAuthHandlers(client, cfg, broker, encryptor)
	handler := buildHTTPHandler(cfg, loader, handlers)

	return &AuthGate{
		config:     cfg,
		httpServer: server.NewHTTPServer(handler, cfg.Addr),
		broker:     broker,
	}, nil
}

// buildHTTPHandler wires routes and the middleware chain
func buildHTTPHandler(cfg config.Config, loader *reqauth.Loader, handlers *server.AuthHandlers) http.Handler {
	mux := http.NewServeMux()

	// Pages mount at their configured locations; action endpoints are part
	// of the wire contract and mount at fixed paths.
	mux.HandleFunc("GET /", handlers.HomeHandler)
	mux.HandleFunc("GET "+cfg.LoginPath, handlers.LoginPageHandler)
	mux.HandleFunc("GET "+cfg.ErrorPath, handlers.ErrorPageHandler)
	mux.HandleFunc("GET "+cfg.ProtectedPrefix, handlers.PrivateHandler)
	mux.HandleFunc("GET "+cfg.ProtectedPrefix+"/", handlers.PrivateHandler)

	mux.HandleFunc("POST "+server.LoginActionPath, handlers.LoginHandler)
	mux.HandleFunc("POST "+server.SignupActionPath, handlers.SignupHandler)
	mux.HandleFunc("GET "+server.ProviderActionPath+"/{provider}", handlers.SignInProviderHandler)
	mux.HandleFunc("GET "+server.CallbackPath, handlers.CallbackHandler)
	mux.HandleFunc("GET "+server.ConfirmPath, handlers.ConfirmHandler)
	mux.HandleFunc("POST "+server.LogoutActionPath, handlers.LogoutHandler)
	mux.HandleFunc("GET "+server.SessionPath, handlers.SessionHandler)
	mux.HandleFunc("GET "+server.EventsPath, handlers.EventsHandler)
	mux.Handle("GET /health", server.NewHealthHandler())

	guard := server.NewGuardMiddleware(server.GuardRules{
		ProtectedPrefix: cfg.ProtectedPrefix,
		LoginPath:       cfg.LoginPath,
		HomePath:        cfg.ProtectedPrefix,
	})

	return server.ChainMiddleware(mux,
		guard,
		server.NewCredentialMiddleware(loader),
		server.NewCORSMiddleware(cfg.AllowedOrigins),
		server.NewLoggerMiddleware("http"),
		server.NewRecoverMiddleware("http"),
	)
}

// Run starts the gateway and blocks until shutdown
func (a *AuthGate) Run() error {
	log.LogInfoWithFields("authgate", "Starting auth gateway", map[string]any{
		"addr": a.config.Addr,
	})

	errChan := make(chan error, 1)
	go func() {
		if err := a.httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var shutdownReason string
	select {
	case sig := <-sigChan:
		shutdownReason = fmt.Sprintf("signal %v", sig)
		log.LogInfoWithFields("authgate", "Received shutdown signal", map[string]any{
			"signal": sig.String(),
		})
	case err := <-errChan:
		shutdownReason = fmt.Sprintf("error: %v", err)
		log.LogErrorWithFields("authgate", "Shutting down due to error", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("authgate", "Starting graceful shutdown", map[string]any{
		"reason":  shutdownReason,
		"timeout": "30s",
	})
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Closing the broker ends all SSE subscriptions so in-flight event
	// streams do not hold up the server shutdown.
	a.broker.Close()

	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		log.LogErrorWithFields("authgate", "HTTP server shutdown error", map[string]any{
			"error": err.Error(),
		})
		return err
	}

	log.LogInfoWithFields("authgate", "Shutdown complete", nil)
	return nil
}
