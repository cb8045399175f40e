package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"chatdesk/internal/api"
	"chatdesk/internal/auth"
	"chatdesk/internal/config"
	"chatdesk/internal/database"
	"chatdesk/internal/hub"
	"chatdesk/internal/relay"
	"chatdesk/internal/session"
	"chatdesk/internal/websocket"
	pkgdatabase "chatdesk/pkg/database"
	"chatdesk/pkg/interfaces"
	"chatdesk/pkg/types"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	logger     *zap.Logger
	tokens     *auth.Source
	factory    *websocket.Factory
	messageHub *hub.Hub
	journal    *database.Manager // nil when disabled
	session    *session.Manager
	relay      *relay.Relay // nil when disabled
	detach     func()
	apiServer  *api.Server
	httpServer *http.Server // nil when the bridge is disabled
	listener   net.Listener
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Tokens → Factory → Hub → Journal → Session → Relay → API → HTTP
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{config: cfg, logger: logger}

	// STEP 1: Token source (customer-care identity wins over admin)
	app.tokens = auth.NewSource(cfg.Auth.CustomerCareToken, cfg.Auth.AdminToken, logger.Named("auth"))
	if claims, err := app.tokens.Identity(); err == nil {
		fields := []zap.Field{zap.String("role", app.tokens.Role()), zap.String("user_id", claims.UserID)}
		if claims.Expired(time.Now()) {
			logger.Warn("access token has expired; the chat server will likely reject it", fields...)
		} else {
			logger.Info("signed-in identity", fields...)
		}
	}

	// STEP 2: Connection factory shared by every session of this process
	app.factory = websocket.NewFactory(websocket.Options{
		URL:              cfg.Chat.URL,
		Path:             cfg.Chat.Path,
		Namespace:        cfg.Chat.Namespace,
		HandshakeTimeout: cfg.Chat.ConnectTimeout,
		WriteTimeout:     cfg.Chat.WriteTimeout,
		PingGrace:        cfg.Chat.PingGrace,
		Logger:           logger.Named("socket"),
	})

	// STEP 3: Push hub; the session applies pushes on its goroutine
	app.messageHub = hub.NewHub(hub.DefaultBuffer, logger.Named("hub"))

	// STEP 4: Optional transcript journal
	var journal interfaces.Journal
	if cfg.Journal.Path != "" {
		dbConfig := pkgdatabase.DefaultConfig()
		dbConfig.DatabasePath = cfg.Journal.Path
		dbConfig.WriteTimeout = cfg.Journal.Timeout

		manager, err := database.NewManager(dbConfig, logger.Named("journal"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize journal: %w", err)
		}
		if err := manager.Migrate(); err != nil {
			_ = manager.Close()
			return nil, fmt.Errorf("failed to apply journal migrations: %w", err)
		}
		logger.Info("journal ready", zap.String("path", cfg.Journal.Path))
		app.journal = manager
		journal = manager
	}

	// STEP 5: Chat session
	sess, err := session.NewManager(session.Options{
		Tokens:         app.tokens,
		Factory:        app.factory,
		Hub:            app.messageHub,
		Journal:        journal,
		RequestTimeout: cfg.Chat.RequestTimeout,
		Logger:         logger.Named("session"),
	})
	if err != nil {
		app.closeJournal()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	app.session = sess

	// STEP 6: Optional NATS relay
	if cfg.Relay.URL != "" {
		r, err := relay.Connect(relay.Options{URL: cfg.Relay.URL, Subject: cfg.Relay.Subject}, logger)
		if err != nil {
			_ = sess.Close()
			app.closeJournal()
			return nil, fmt.Errorf("failed to connect relay: %w", err)
		}
		app.relay = r
	}

	// STEP 7: UI bridge
	app.apiServer = api.NewServer(api.Options{
		Session: sess,
		Journal: journal,
		SelfID:  app.tokens.UserID,
		Logger:  logger.Named("api"),
	})

	if cfg.HTTP.Enabled {
		app.httpServer = &http.Server{
			Addr:         cfg.HTTP.Address(),
			Handler:      app.apiServer,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		}
	}

	return app, nil
}

// Start begins application execution
// Startup coordination: hub first so pushes have somewhere to go, then the
// session, then the bridge
func (app *Application) Start(ctx context.Context) error {
	app.logger.Info("starting chatdesk", zap.String("chat_url", app.config.Chat.URL))

	// STEP 1: Start push processing
	if err := app.messageHub.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start message hub: %w", err)
	}
	if app.relay != nil {
		app.detach = app.relay.Attach(app.messageHub)
	}

	// STEP 2: Open the chat session
	// FUNCTIONAL DISCOVERY: Without a token nothing can work, so that fails startup;
	// an unreachable chat server only degrades it and the UI can reconnect later
	if err := app.session.Open(ctx); err != nil {
		var authErr *types.AuthenticationError
		if errors.As(err, &authErr) {
			app.stopHub()
			return err
		}
		app.logger.Warn("chat session not open; waiting for an explicit reconnect", zap.Error(err))
	}

	// STEP 3: Start HTTP bridge
	if app.httpServer == nil {
		app.logger.Info("chatdesk started without HTTP bridge")
		return nil
	}

	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		app.stopHub()
		return fmt.Errorf("HTTP listen failed: %w", err)
	}
	app.listener = ln

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = ln.Close()
		app.stopHub()
		return err
	case <-time.After(100 * time.Millisecond):
		app.logger.Info("chatdesk started", zap.String("addr", app.GetAddr()))
		return nil
	case <-ctx.Done():
		_ = ln.Close()
		app.stopHub()
		return ctx.Err()
	}
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Session → Relay → Hub → Journal
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down chatdesk")

	if app.httpServer != nil {
		if err := app.httpServer.Shutdown(ctx); err != nil {
			app.logger.Warn("HTTP server shutdown error", zap.Error(err))
		}
	}

	if err := app.session.Close(); err != nil {
		app.logger.Warn("session close error", zap.Error(err))
	}

	if app.detach != nil {
		app.detach()
	}
	if app.relay != nil {
		if err := app.relay.Close(); err != nil {
			app.logger.Warn("relay close error", zap.Error(err))
		}
	}

	app.stopHub()
	app.closeJournal()

	app.logger.Info("chatdesk shutdown complete")
	return nil
}

func (app *Application) stopHub() {
	if !app.messageHub.Running() {
		return
	}
	if err := app.messageHub.Stop(); err != nil {
		app.logger.Warn("message hub shutdown error", zap.Error(err))
	}
}

func (app *Application) closeJournal() {
	if app.journal == nil {
		return
	}
	if err := app.journal.Close(); err != nil {
		app.logger.Warn("journal shutdown error", zap.Error(err))
	}
}

// Session returns the chat session.
func (app *Application) Session() *session.Manager {
	return app.session
}

// Tokens returns the token source, for signing identities in and out at runtime.
func (app *Application) Tokens() *auth.Source {
	return app.tokens
}

// Handler returns the bridge handler regardless of whether HTTP is enabled.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// GetAddr returns the bridge address, the bound one once started.
func (app *Application) GetAddr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	if app.httpServer != nil {
		return app.httpServer.Addr
	}
	return ""
}
