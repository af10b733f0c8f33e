// Command mockapi serves the in-memory resume builder backend for local
// development against the apiclient package.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/Vishalsnw/Resume-builder-sub001/internal/mockapi"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mockapi: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	v := viper.New()
	v.SetEnvPrefix("MOCKAPI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("addr", ":8080")
	v.SetDefault("secret", "dev-secret-change-me")
	v.SetDefault("access_ttl", 5*time.Minute)
	v.SetDefault("refresh_ttl", 7*24*time.Hour)
	v.SetDefault("log_level", "info")
	v.SetDefault("demo_email", "demo@example.com")
	v.SetDefault("demo_password", "demo-password")

	level, err := zerolog.ParseLevel(v.GetString("log_level"))
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Str("service", "mockapi").Logger()

	cfg := mockapi.DefaultConfig()
	cfg.Secret = v.GetString("secret")
	cfg.AccessTTL = v.GetDuration("access_ttl")
	cfg.RefreshTTL = v.GetDuration("refresh_ttl")
	cfg.Users = []mockapi.SeedUser{{
		Email:    v.GetString("demo_email"),
		Password: v.GetString("demo_password"),
		Name:     "Demo User",
	}}

	api, err := mockapi.NewServer(cfg, logger)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", api.Handler())

	displayAppname("mockapi")
	server := &http.Server{
		Addr:              v.GetString("addr"),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Dur("accessTTL", cfg.AccessTTL).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-stop:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info().Msg("stopped")
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
