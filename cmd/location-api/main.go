// Command location-api serves location validation, reverse geocoding and
// location storage over HTTP.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mycobrun/cobrun-location/bootstrap"
	locationhttp "github.com/mycobrun/cobrun-location/http"
	"github.com/mycobrun/cobrun-location/logging"
)

const serviceName = "location-api"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logging.NewLogger("error").Error("service exited", "service", serviceName, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	svc, err := bootstrap.Initialize(ctx, serviceName, bootstrap.DefaultOptions())
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(context.WithoutCancel(ctx)); err != nil {
			svc.Logger.Error("shutdown failed", "error", err)
		}
	}()

	// Reverse geocoding spends provider quota; limit it per client.
	limiter := locationhttp.NewRateLimiter(svc.RateLimiterConfig())
	defer limiter.Close()

	handler, err := svc.Handler(limiter)
	if err != nil {
		return err
	}

	server := locationhttp.NewServer(svc.ServerConfig(), handler, svc.Logger)
	return server.Run(ctx)
}
