package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/cepro/northbridge/api"
	"github.com/cepro/northbridge/checkpoint"
	"github.com/cepro/northbridge/config"
	"github.com/cepro/northbridge/north"
	"github.com/cepro/northbridge/notify"
	"github.com/cepro/northbridge/postgres"
	"github.com/cepro/northbridge/repository"
	"github.com/cepro/northbridge/storageclient"
	"github.com/cepro/northbridge/supabase"
	"github.com/cepro/northbridge/telemetry"
)

func main() {

	configPath := flag.String("config", "config.json", "path to the JSON or YAML config file")
	flag.Parse()

	cfg, err := config.Read(*configPath)
	if err != nil {
		slog.Error("Failed to read config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	// the level was validated when reading the config
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("Starting northbridge...")

	ctx, cancel := context.WithCancel(context.Background())
	err = run(ctx, cfg)
	if err != nil {
		slog.Error("Failed to start", "error", err)
		cancel()
		os.Exit(1)
	}

	// wait for a ctrl-c interrupt before exiting
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	<-signalChan

	// cancel any open go-routines and give them a moment to gracefully shutdown
	cancel()
	time.Sleep(time.Millisecond * 500)

	slog.Info("Exiting")
	os.Exit(0)
}

// run builds every configured component and starts them in the background. The components stop when ctx is cancelled.
func run(ctx context.Context, cfg config.Config) error {

	location, err := cfg.Location()
	if err != nil {
		return err
	}
	decoder := telemetry.NewDecoder(telemetry.DecoderConfig{
		Location:    location,
		IsolateRows: cfg.Decoder.IsolateRows,
		Logger:      slog.Default().With("component", "decoder"),
	})

	repo, err := repository.New(cfg.Buffer.SqlitePath)
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}

	sinks, closeSinks, err := createSinks(ctx, cfg)
	if err != nil {
		return err
	}

	dataPlatform, err := north.New(north.Config{
		Repository:       repo,
		Sinks:            sinks,
		UploadInterval:   cfg.UploadInterval(),
		UploadChunkLimit: cfg.Buffer.UploadChunkLimit,
	})
	if err != nil {
		closeSinks()
		return fmt.Errorf("create data platform: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		dataPlatform.Run(ctx)
	}()

	if cfg.Storage.Url != "" {
		cp, err := checkpoint.Connect(ctx, cfg.Checkpoint.RedisAddr, cfg.Checkpoint.Key)
		if err != nil {
			return fmt.Errorf("connect checkpoint: %w", err)
		}
		fetcher := storageclient.New(http.Client{Timeout: 30 * time.Second}, cfg.Storage.Url, decoder)
		poller, err := north.NewPoller(fetcher, cp, dataPlatform, cfg.Storage.BlockSize)
		if err != nil {
			return fmt.Errorf("create poller: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cp.Close()
			poller.Run(ctx, cfg.PollInterval())
		}()
	}

	if cfg.Notifications.Broker != "" {
		subscriber := notify.New(cfg.Notifications.Broker, cfg.Notifications.ClientID, cfg.Notifications.Topic, decoder, dataPlatform.ReadingSets)
		go func() {
			err := subscriber.Run(ctx)
			if err != nil {
				slog.Error("Notification subscriber stopped", "error", err)
			}
		}()
	}

	if cfg.HTTP.Port != 0 {
		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
			Handler:           api.SetupRouter(api.NewAPIHandler(decoder, dataPlatform.ReadingSets, repo)),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("Listening for notifications", "addr", server.Addr)
			err := server.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("HTTP server stopped", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	go func() {
		wg.Wait()
		closeSinks()
	}()

	return nil
}

func createSinks(ctx context.Context, cfg config.Config) ([]north.Sink, func(), error) {
	var sinks []north.Sink
	closers := []func(){}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.Supabase.Url != "" {
		client, err := supabase.New(cfg.Supabase.Url, cfg.Supabase.Key, "", cfg.Supabase.Schema, cfg.Supabase.Table)
		if err != nil {
			return nil, nil, fmt.Errorf("create supabase client: %w", err)
		}
		sinks = append(sinks, client)
	}

	if cfg.Postgres.Url != "" {
		sink, err := postgres.New(ctx, cfg.Postgres.Url, cfg.Postgres.Table)
		if err != nil {
			return nil, nil, fmt.Errorf("create postgres sink: %w", err)
		}
		sinks = append(sinks, sink)
		closers = append(closers, sink.Close)
	}

	return sinks, closeAll, nil
}
