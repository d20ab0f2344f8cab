package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/PeladoCollado/fractalload/orchestrator/logger"
	"github.com/PeladoCollado/fractalload/stubservice"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	var opts stubservice.Options
	var mfaUsers string
	flag.StringVar(&port, "port", port, "Port to listen on")
	flag.StringVar(&opts.Password, "password", os.Getenv("TEST_PASSWORD"), "Password shared by all users (empty accepts any)")
	flag.StringVar(&mfaUsers, "mfa-users", "", "Comma separated users that receive an EMAIL_OTP challenge")
	flag.IntVar(&opts.GenerationPolls, "generation-polls", 3, "Status checks a new job stays pending or generating")
	flag.IntVar(&opts.TooComplexAbove, "too-complex-above", 0, "Iterations above which a job is too_complex (0 disables)")
	flag.Parse()
	if mfaUsers != "" {
		opts.MFAUsers = strings.Split(mfaUsers, ",")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: stubservice.New(opts).Handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Logger.Infow("Stub fractal service listening", "port", port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Logger.Errorw("Stub fractal service failed", "error", err)
		os.Exit(1)
	}
}
