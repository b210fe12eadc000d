package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/rampvu/internal/logger"
	"github.com/wesleyorama2/rampvu/internal/stub"
)

func main() {
	addr := flag.String("addr", ":1323", "listen address")
	level := flag.String("log-level", "info", "log level")
	retention := flag.Duration("retention", stub.DefaultRetention, "how long stored messages are kept")
	flag.Parse()

	log, err := logger.New(logger.Settings{Level: *level})
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	messages := stub.New(log.Named("stub"))
	messages.SetRetention(*retention)

	server := &http.Server{
		Addr:              *addr,
		Handler:           messages.Handler(),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 2 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go messages.RunPruner(ctx, time.Minute)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info("message stub listening", zap.String("addr", *addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server failed", zap.Error(err))
	}
}
