package broker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/eventbroker/pkg/callbacks"
	"github.com/vango-dev/eventbroker/pkg/connections"
	"github.com/vango-dev/eventbroker/pkg/credentials"
	"github.com/vango-dev/eventbroker/pkg/functions"
	"github.com/vango-dev/eventbroker/pkg/metrics"
	"github.com/vango-dev/eventbroker/pkg/middleware"
	"github.com/vango-dev/eventbroker/pkg/protocol"
	"github.com/vango-dev/eventbroker/pkg/workerpool"
)

// Broker accepts WebSocket connections, runs handlers on a worker pool and
// pushes events to connected widgets.
type Broker struct {
	config Config
	logger *slog.Logger
	clock  clockwork.Clock
	tracer trace.Tracer

	pool      *workerpool.Pool
	clients   *connections.Registry
	callbacks *callbacks.Table
	functions *functions.Registry
	store     *credentials.Store
	tokens    credentials.TokenValidator
	metrics   *metrics.Metrics

	extraMiddleware []middleware.Middleware
	chain           []middleware.Middleware

	upgrader websocket.Upgrader
	router   chi.Router

	mu         sync.Mutex
	httpServer *http.Server
	addr       net.Addr

	conns    sync.WaitGroup
	closing  atomic.Bool
	done     chan struct{}
	shutdown sync.Once
}

// New creates a Broker. It starts the worker pool; call Start or
// ListenAndServe to accept connections and Shutdown to release everything.
func New(config Config, opts ...Option) *Broker {
	config = config.withDefaults()

	b := &Broker{
		config: config,
		logger: slog.Default(),
		clock:  clockwork.NewRealClock(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "broker")

	if b.metrics == nil && config.EnableMetrics {
		b.metrics = metrics.New()
	}

	poolConfig := config.Pool
	poolConfig.Name = "broker"
	poolConfig.Clock = b.clock
	poolConfig.Logger = b.logger
	poolConfig.Metrics = b.metrics
	b.pool = workerpool.New(poolConfig)

	if b.store == nil {
		storeConfig := config.Credentials
		storeConfig.Clock = b.clock
		storeConfig.Logger = b.logger
		b.store = credentials.NewStore(storeConfig)
	}
	if config.SweepInterval > 0 {
		b.store.StartSweeper(config.SweepInterval)
	}
	if b.tokens == nil && config.RequireTokens {
		b.tokens = b.store
	}

	b.clients = connections.New(
		connections.WithClock(b.clock),
		connections.WithLogger(b.logger),
	)
	b.callbacks = callbacks.New(b.pool,
		callbacks.WithClock(b.clock),
		callbacks.WithLogger(b.logger),
		callbacks.WithMetrics(b.metrics),
	)
	b.functions = functions.New(b.logger)

	otelOpts := []middleware.OTelOption{}
	if b.tracer != nil {
		otelOpts = append(otelOpts, middleware.WithTracer(b.tracer))
	}
	b.chain = append([]middleware.Middleware{
		middleware.OpenTelemetry(otelOpts...),
		middleware.Logging(b.logger, config.SlowCall),
	}, b.extraMiddleware...)

	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  config.ReadBufferSize,
		WriteBufferSize: config.WriteBufferSize,
		CheckOrigin:     config.originChecker(),
	}
	b.router = b.routes()

	return b
}

func (b *Broker) routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", b.handleHealth)
	if b.config.EnableMetrics && b.metrics != nil {
		r.Method(http.MethodGet, "/metrics", b.metrics.Handler())
	}
	r.Get("/ws/functions/{name}", b.handleFunction)
	r.Get("/wss/functions/{name}", b.handleFunction)
	r.Get("/ws/*", b.handleEvent)
	r.Get("/wss/*", b.handleEvent)
	return r
}

// Config returns the effective configuration.
func (b *Broker) Config() Config { return b.config }

// Handler returns the HTTP handler serving every broker route.
func (b *Broker) Handler() http.Handler { return b.router }

// Credentials returns the credential store.
func (b *Broker) Credentials() *credentials.Store { return b.store }

// Pool returns the worker pool.
func (b *Broker) Pool() *workerpool.Pool { return b.pool }

// Clients returns the connection registry.
func (b *Broker) Clients() *connections.Registry { return b.clients }

// Callbacks returns the callback table.
func (b *Broker) Callbacks() *callbacks.Table { return b.callbacks }

// Functions returns the function registry.
func (b *Broker) Functions() *functions.Registry { return b.functions }

// Metrics returns the collectors, or nil when metrics are disabled.
func (b *Broker) Metrics() *metrics.Metrics { return b.metrics }

// RegisterFunction serves h on /ws/functions/<name>.
func (b *Broker) RegisterFunction(name string, h protocol.Handler) {
	if h == nil {
		b.functions.Register(name, nil)
		return
	}
	b.functions.Register(name, middleware.Chain(h, b.chain...))
}

// RegisterCallback binds h to events with id eventID from userID. A Message
// returned by h that carries an id is pushed to that id.
func (b *Broker) RegisterCallback(userID, eventID string, h protocol.Handler) {
	if h == nil {
		b.callbacks.Register(userID, eventID, nil)
		return
	}
	b.callbacks.Register(userID, eventID, b.pushResult(middleware.Chain(h, b.chain...)))
}

// pushResult sends a handler's Message result to the id it names.
func (b *Broker) pushResult(next protocol.Handler) protocol.Handler {
	return func(ctx context.Context, req *protocol.Request) (any, error) {
		v, err := next(ctx, req)
		if err != nil {
			return v, err
		}
		if msg, ok := protocol.AsMessage(v); ok && msg.ID() != "" {
			b.SendData(msg)
		}
		return v, nil
	}
}

// NotifyByKeyFragment invokes every callback of userID whose event id
// contains fragment, passing msg.
func (b *Broker) NotifyByKeyFragment(ctx context.Context, userID, fragment string, msg protocol.Message) []*workerpool.Task {
	userID = callbacks.NormalizeUser(userID)
	req := b.newRequest(protocol.ModeEvent, fragment, "", userID, msg)
	return b.callbacks.InvokeByKeyFragment(ctx, userID, fragment, req)
}

// newRequest builds a handler request, attaching stored session and user
// state when the message names them.
func (b *Broker) newRequest(mode protocol.Mode, target, path, userID string, msg protocol.Message) *protocol.Request {
	req := &protocol.Request{
		Mode:      mode,
		Target:    target,
		Message:   msg,
		Path:      path,
		UserID:    userID,
		SessionID: msg.SessionID(),
	}
	if req.SessionID != "" {
		if state, ok := b.store.SessionState(req.SessionID); ok {
			req.Session = state
		}
	}
	if uid := msg.UserID(); uid != "" {
		if state, ok := b.store.UserState(uid); ok {
			req.User = state
		}
	}
	return req
}

// Start listens on the configured address and serves in the background.
func (b *Broker) Start() error {
	ln, err := net.Listen("tcp", b.config.Addr())
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.addr = ln.Addr()
	b.mu.Unlock()

	go func() {
		if err := b.Serve(ln); err != nil {
			b.logger.Error("serve error", "error", err)
		}
	}()
	return nil
}

// ListenAndServe listens on the configured address and blocks until
// Shutdown.
func (b *Broker) ListenAndServe() error {
	ln, err := net.Listen("tcp", b.config.Addr())
	if err != nil {
		return err
	}
	return b.Serve(ln)
}

// Serve accepts connections on ln until Shutdown. It returns nil after a
// clean shutdown.
func (b *Broker) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           b.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	b.mu.Lock()
	if b.closing.Load() {
		b.mu.Unlock()
		ln.Close()
		return http.ErrServerClosed
	}
	b.httpServer = srv
	b.addr = ln.Addr()
	b.mu.Unlock()

	b.logger.Info("event broker started", "address", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the listening address once serving, or "".
func (b *Broker) Addr() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.addr == nil {
		return ""
	}
	return b.addr.String()
}

// Shutdown closes every connection, stops the HTTP server and drains the
// worker pool until ctx is done.
func (b *Broker) Shutdown(ctx context.Context) error {
	var err error
	b.shutdown.Do(func() {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, b.config.ShutdownTimeout)
			defer cancel()
		}

		b.mu.Lock()
		b.closing.Store(true)
		srv := b.httpServer
		b.mu.Unlock()

		close(b.done)
		b.clients.CloseAll()

		if srv != nil {
			if e := srv.Shutdown(ctx); e != nil {
				b.logger.Error("http shutdown error", "error", e)
				err = e
			}
		}

		connsDone := make(chan struct{})
		go func() {
			b.conns.Wait()
			close(connsDone)
		}()
		select {
		case <-connsDone:
		case <-ctx.Done():
		}

		if e := b.pool.Close(ctx); e != nil && err == nil {
			err = e
		}
		b.store.Close()

		b.logger.Info("event broker shutdown complete")
	})
	return err
}

// healthStatus is the /healthz body.
type healthStatus struct {
	Status      string            `json:"status"`
	Connections int               `json:"connections"`
	Callbacks   int               `json:"callbacks"`
	Functions   []string          `json:"functions"`
	Pool        workerpool.Stats  `json:"pool"`
	Credentials credentials.Stats `json:"credentials"`
}

func (b *Broker) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{
		Status:      "ok",
		Connections: b.clients.Len(),
		Callbacks:   b.callbacks.Len(),
		Functions:   b.functions.Names(),
		Pool:        b.pool.Stats(),
		Credentials: b.store.Stats(),
	}
	code := http.StatusOK
	if b.closing.Load() {
		status.Status = "shutting_down"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		b.logger.Debug("write health response", "error", err)
	}
}
