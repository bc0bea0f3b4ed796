package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"timeslot-service/internal/bridge"
	"timeslot-service/internal/config"
	appointmentAccept "timeslot-service/internal/http-server/handlers/appointments/accept"
	appointmentAssign "timeslot-service/internal/http-server/handlers/appointments/assign"
	appointmentCancel "timeslot-service/internal/http-server/handlers/appointments/cancel"
	appointmentComplete "timeslot-service/internal/http-server/handlers/appointments/complete"
	appointmentCreate "timeslot-service/internal/http-server/handlers/appointments/create"
	appointmentDecline "timeslot-service/internal/http-server/handlers/appointments/decline"
	appointmentGet "timeslot-service/internal/http-server/handlers/appointments/get"
	exceptionCreate "timeslot-service/internal/http-server/handlers/exceptions/create"
	patternCreate "timeslot-service/internal/http-server/handlers/patterns/create"
	patternDeactivate "timeslot-service/internal/http-server/handlers/patterns/deactivate"
	patternGet "timeslot-service/internal/http-server/handlers/patterns/get"
	slotDelete "timeslot-service/internal/http-server/handlers/slots/delete"
	slotGet "timeslot-service/internal/http-server/handlers/slots/get"
	"timeslot-service/internal/lock"
	"timeslot-service/internal/materializer"
	svc "timeslot-service/internal/service"
	"timeslot-service/internal/storage/postgres"
	slogpretty "timeslot-service/pkg/handlers/slogPretty"
	"timeslot-service/pkg/middleware/mwLogger"
	"timeslot-service/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Content-Type", "application/json; charset=utf-8")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {

	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("Starting API", slog.String("env", cfg.Env))
	log.Debug("Debug messages are enabled")

	storage, err := postgres.New(cfg.StoragePath)
	if err != nil {
		log.Error("Failed to init storage", sl.Err(err))
		os.Exit(1)
	}

	locker, err := lock.NewRedisLock(cfg.RedisAddr)
	if err != nil {
		log.Error("Failed to init redis lock", sl.Err(err))
		os.Exit(1)
	}

	publisher, err := bridge.NewPublisher(cfg.Amqp, log)
	if err != nil {
		log.Error("Failed to init event publisher", sl.Err(err))
		os.Exit(1)
	}

	var notifier svc.Notifier = bridge.LogNotifier{Log: log}
	if publisher != nil {
		notifier = publisher
	}

	service := svc.NewService(storage, locker, notifier, svc.Options{
		HorizonDays:     cfg.Generation.HorizonDays,
		LockTTL:         cfg.Booking.LockTTL,
		DefaultPageSize: cfg.Generation.DefaultPageSize,
		MaxPageSize:     cfg.Generation.MaxPageSize,
	})

	view := bridge.NewView()

	listener, err := bridge.NewListener(cfg.Amqp, view, log)
	if err != nil {
		log.Error("Failed to init event listener", sl.Err(err))
		os.Exit(1)
	}

	listenerCtx, stopListener := context.WithCancel(context.Background())
	defer stopListener()

	if listener != nil {
		go func() {
			if err := listener.Run(listenerCtx); err != nil {
				log.Error("Event listener stopped unexpectedly", sl.Err(err))
			}
		}()
	}

	mat, err := materializer.New(cfg.Generation.MaterializeCron, service, log)
	if err != nil {
		log.Error("Failed to init materializer", sl.Err(err))
		os.Exit(1)
	}
	mat.Start()

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(mwLogger.New(log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.URLFormat)
	router.Use(CORS)

	// Patterns
	router.Post("/patterns", patternCreate.New(log, service))
	router.Get("/patterns/{id}", patternGet.New(log, service))
	router.Delete("/patterns/{id}", patternDeactivate.New(log, service))

	// Exceptions
	router.Post("/exceptions", exceptionCreate.New(log, service))

	// Slots
	router.Get("/slots", slotGet.New(log, service))
	router.Get("/slots/{id}", slotGet.New(log, service))
	router.Delete("/slots/{id}", slotDelete.New(log, service))

	// Appointments
	router.Post("/appointments", appointmentCreate.New(log, service))
	router.Get("/appointments/{id}", appointmentGet.New(log, service))
	router.Post("/appointments/{id}/accept", appointmentAccept.New(log, service))
	router.Post("/appointments/{id}/decline", appointmentDecline.New(log, service))
	router.Post("/appointments/{id}/cancel", appointmentCancel.New(log, service))
	router.Post("/appointments/{id}/complete", appointmentComplete.New(log, service))
	router.Post("/appointments/assign", appointmentAssign.New(log, service))

	serv := &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	serverErrCh := make(chan error, 1)

	go func() {
		log.Info("Starting HTTP server", slog.String("addr", cfg.Address))
		if err := serv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		} else {
			serverErrCh <- nil
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-serverErrCh:
		if err != nil {
			log.Error("HTTP server stopped unexpectedly", sl.Err(err))
		} else {
			log.Info("HTTP server stopped gracefully")
		}
	}

	shutdownTimeout := cfg.HTTPServer.ShutdownTimeout

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info("Shutting down HTTP server", slog.String("timeout", shutdownTimeout.String()))

	if err := serv.Shutdown(ctx); err != nil {
		log.Error("Server shutdown failed", sl.Err(err))
	} else {
		log.Info("Server shutdown complete")
	}

	mat.Stop()
	stopListener()

	if listener != nil {
		if err := listener.Close(); err != nil {
			log.Error("Failed to close listener", sl.Err(err))
		} else {
			log.Info("Listener closed")
		}
	}

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Error("Failed to close publisher", sl.Err(err))
		}
	}

	if storage != nil {
		if err := storage.Close(); err != nil {
			log.Error("Failed to close storage", sl.Err(err))
		} else {
			log.Info("Storage closed")
		}
	} else {
		log.Debug("Storage is nil, nothing to close")
	}

	if locker != nil {
		if err := locker.Close(); err != nil {
			log.Error("Failed to close locker", sl.Err(err))
		} else {
			log.Info("Locker closed")
		}
	}

	log.Info("Shutdown finished, server stopped")

}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger
	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}
