// Package gateway wires the pool controller, the request proxy and the HTTP
// surface into one process-wide aggregate, built at startup and torn down on
// stop.
package gateway

import (
	"context"
	goerrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"github.com/openinterp/code-interpreter/pkg/gateway/config"
	"github.com/openinterp/code-interpreter/pkg/gateway/driver"
	"github.com/openinterp/code-interpreter/pkg/gateway/pool"
	"github.com/openinterp/code-interpreter/pkg/gateway/probe"
	"github.com/openinterp/code-interpreter/pkg/gateway/proxy"
	"github.com/openinterp/code-interpreter/pkg/logs"
)

// Controller handles the public code-interpreter API on top of the worker pool.
type Controller struct {
	opts   config.Options
	mux    *http.ServeMux
	server *http.Server
	stop   chan os.Signal

	driver    driver.Driver
	pool      *pool.Pool
	forwarder *proxy.Forwarder
}

func NewController(opts config.Options) (*Controller, error) {
	opts = config.InitOptions(opts)
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.AuthToken == "" {
		if err := opts.ResolveAuthToken(); err != nil {
			return nil, err
		}
	}

	d, err := driver.NewDockerDriver()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to container engine: %w", err)
	}
	prober := probe.NewHTTPProber(opts.ProbeInterval, opts.HealthTimeout)
	return newController(opts, d, prober), nil
}

// newController finishes construction with an injected driver and prober.
// Tests use it with fakes.
func newController(opts config.Options, d driver.Driver, prober probe.Prober) *Controller {
	c := &Controller{
		opts:      opts,
		mux:       http.NewServeMux(),
		driver:    d,
		pool:      pool.New(opts, d, prober),
		forwarder: proxy.NewForwarder(opts.ProxyTimeout),
	}
	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           c.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	c.registerRoutes()
	return c
}

// Run initializes the pool, then serves until SIGINT/SIGTERM. The returned
// context is cancelled once shutdown completes.
func (c *Controller) Run() (context.Context, error) {
	if c.stop != nil {
		return nil, goerrors.New("controller already started")
	}
	ctx, cancel := context.WithCancel(logs.NewContext())
	c.stop = make(chan os.Signal, 1)
	signal.Notify(c.stop, syscall.SIGINT, syscall.SIGTERM)

	if err := c.pool.Run(ctx); err != nil {
		cancel()
		return nil, err
	}

	go func() {
		klog.InfoS("Starting gateway server", "address", c.server.Addr)
		if err := c.server.ListenAndServe(); err != nil && !goerrors.Is(err, http.ErrServerClosed) {
			klog.Fatalf("HTTP server failed to start: %v", err)
		}
	}()

	go func() {
		<-c.stop
		klog.InfoS("Shutting down gateway...")
		defer cancel()
		c.Stop()
	}()
	return ctx, nil
}

// Stop drains the HTTP server, destroys every worker and closes the engine
// connection.
func (c *Controller) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.server.Shutdown(shutdownCtx); err != nil {
		klog.ErrorS(err, "failed to shut down HTTP server cleanly")
	}
	c.pool.Stop()
	if err := c.driver.Close(); err != nil {
		klog.ErrorS(err, "failed to close container engine client")
	}
}
