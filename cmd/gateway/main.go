// Package main provides the main entry point for the code-interpreter gateway.
package main

import (
	"flag"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/go-logr/zapr"
	"github.com/spf13/pflag"
	zapRaw "go.uber.org/zap"
	"k8s.io/klog/v2"

	"github.com/openinterp/code-interpreter/pkg/gateway"
	"github.com/openinterp/code-interpreter/pkg/gateway/config"
)

func main() {
	var enablePprof bool
	var pprofAddr string

	var port int
	var workerImage string
	var internalNetwork string
	var minIdleWorkers int
	var maxTotalWorkers int
	var workerIdleTimeout time.Duration
	var recyclingInterval time.Duration
	var executionTimeout time.Duration
	var proxyTimeout time.Duration
	var healthTimeout time.Duration
	var probeInterval time.Duration
	var workerMemoryBytes int64
	var workerCPUShares int64
	var workerDiskMB int64
	var authTokenFile string

	pflag.BoolVar(&enablePprof, "enable-pprof", false, "Enable pprof profiling")
	pflag.StringVar(&pprofAddr, "pprof-addr", ":6060", "The address the pprof debug maps to.")

	pflag.IntVar(&port, "port", 8080, "The port the gateway listens on")
	pflag.StringVar(&workerImage, "worker-image", "", "Worker container image (defaults to $WORKER_IMAGE)")
	pflag.StringVar(&internalNetwork, "internal-network", "", "Internal network workers and the gateway share (defaults to $INTERNAL_NETWORK_NAME)")
	pflag.IntVar(&minIdleWorkers, "min-idle-workers", 5, "Target number of pre-warmed idle workers")
	pflag.IntVar(&maxTotalWorkers, "max-total-workers", 30, "Absolute ceiling of concurrent workers")
	pflag.DurationVar(&workerIdleTimeout, "worker-idle-timeout", time.Hour, "Idle time after which a bound worker is recycled")
	pflag.DurationVar(&recyclingInterval, "recycling-interval", 5*time.Minute, "How often the recycler scans for timed-out workers")
	pflag.DurationVar(&executionTimeout, "execution-timeout", 10*time.Second, "Per-request execution budget inside the worker")
	pflag.DurationVar(&proxyTimeout, "proxy-timeout", 30*time.Second, "End-to-end deadline for forwarded execute calls")
	pflag.DurationVar(&healthTimeout, "health-timeout", 30*time.Second, "Total budget for a new worker to become healthy")
	pflag.DurationVar(&probeInterval, "probe-interval", 500*time.Millisecond, "Interval between health probe attempts")
	pflag.Int64Var(&workerMemoryBytes, "worker-memory-bytes", 1024*1024*1024, "Memory cap per worker container")
	pflag.Int64Var(&workerCPUShares, "worker-cpu-shares", 1024, "CPU shares per worker container")
	pflag.Int64Var(&workerDiskMB, "worker-disk-mb", 0, "Scratch disk size per worker in MB (0 disables)")
	pflag.StringVar(&authTokenFile, "auth-token-file", "", "File the auto-generated auth token is persisted to")

	klog.InitFlags(nil)
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()

	zapLog, err := zapRaw.NewProduction(zapRaw.AddCaller())
	if err != nil {
		klog.Fatalf("Failed to build logger: %v", err)
	}
	klog.SetLogger(zapr.NewLogger(zapLog))

	if enablePprof {
		go func() {
			klog.Infof("Starting pprof server on %s", pprofAddr)
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				klog.Errorf("Unable to start pprof server: %v", err)
			}
		}()
	}

	opts := config.Options{
		Port:                port,
		WorkerImage:         workerImage,
		InternalNetworkName: internalNetwork,
		MinIdleWorkers:      minIdleWorkers,
		MaxTotalWorkers:     maxTotalWorkers,
		WorkerIdleTimeout:   workerIdleTimeout,
		RecyclingInterval:   recyclingInterval,
		ExecutionTimeout:    executionTimeout,
		ProxyTimeout:        proxyTimeout,
		HealthTimeout:       healthTimeout,
		ProbeInterval:       probeInterval,
		WorkerMemoryBytes:   workerMemoryBytes,
		WorkerCPUShares:     workerCPUShares,
		WorkerDiskMB:        workerDiskMB,
		AuthTokenFile:       authTokenFile,
	}

	controller, err := gateway.NewController(opts)
	if err != nil {
		klog.Fatalf("Failed to initialize gateway: %v", err)
	}

	ctx, err := controller.Run()
	if err != nil {
		klog.Fatalf("Failed to start gateway: %v", err)
	}
	<-ctx.Done()
	klog.Info("Gateway stopped")
}
