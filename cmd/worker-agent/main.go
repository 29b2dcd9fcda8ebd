// Package main provides the main entry point for the in-container worker agent.
package main

import (
	"flag"
	"time"

	"github.com/go-logr/zapr"
	"github.com/spf13/pflag"
	zapRaw "go.uber.org/zap"
	"k8s.io/klog/v2"

	"github.com/openinterp/code-interpreter/pkg/worker"
)

func main() {
	var port int
	var jupyterHost string
	var executionTimeout time.Duration

	pflag.IntVar(&port, "port", 8000, "The port the worker agent listens on")
	pflag.StringVar(&jupyterHost, "jupyter-host", "127.0.0.1:8888", "Host:port of the local Jupyter server")
	pflag.DurationVar(&executionTimeout, "execution-timeout", 10*time.Second, "Hard wall-clock budget per execute request")

	klog.InitFlags(nil)
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()

	zapLog, err := zapRaw.NewProduction(zapRaw.AddCaller())
	if err != nil {
		klog.Fatalf("Failed to build logger: %v", err)
	}
	klog.SetLogger(zapr.NewLogger(zapLog))

	server := worker.NewServer(worker.ServerConfig{
		Port:             port,
		JupyterHost:      jupyterHost,
		ExecutionTimeout: executionTimeout,
	})
	if err := server.Run(); err != nil {
		klog.Fatalf("Worker agent failed: %v", err)
	}
}
