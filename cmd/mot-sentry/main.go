package main

import (
	"context"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LdDl/mot-sentry/audit"
	"github.com/LdDl/mot-sentry/config"
	"github.com/LdDl/mot-sentry/identity"
	"github.com/LdDl/mot-sentry/mot"
	"github.com/LdDl/mot-sentry/notify"
	"github.com/LdDl/mot-sentry/storage"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	configPath  = flag.String("config", "", "Path to YAML config. Defaults are used when empty")
	inputPath   = flag.String("input", "-", "JSON lines of detector/tracker output, '-' for stdin")
	metricsAddr = flag.String("metrics-addr", "", "Address of Prometheus endpoint, overrides metrics.addr")
)

func main() {
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "mot-sentry").Logger()
	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("Can't load config")
		}
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if cfg.System.Debug {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Sentry stopped with error")
	}
	logger.Info().Msg("Sentry stopped")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	input, err := openInput(*inputPath)
	if err != nil {
		return err
	}
	defer input.Close()

	sinks := make(audit.Fanout, 0, 3)
	logSink, err := audit.OpenDailyLogSink(cfg.Audit.LogDir, time.Now())
	if err != nil {
		return err
	}
	defer logSink.Close()
	sinks = append(sinks, logSink)

	if cfg.Audit.NATSURL != "" {
		nc, err := audit.ConnectNATS(cfg.Audit.NATSURL, cfg.System.Name, logger)
		if err != nil {
			return err
		}
		defer nc.Drain()
		sinks = append(sinks, audit.NewNATSSink(nc, cfg.Audit.NATSSubjectPrefix))
	}

	gallery := identity.NewGallery()
	var db *storage.DB
	if cfg.Storage.Path != "" {
		db, err = storage.Open(cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		sinks = append(sinks, db)
		n, err := db.LoadGallery(gallery)
		if err != nil {
			return err
		}
		logger.Info().Int("entries", n).Msg("Gallery loaded from storage")
	}
	if cfg.Identity.GalleryFile != "" {
		if err := enrollFile(cfg.Identity.GalleryFile, gallery, db, sinks); err != nil {
			return err
		}
		logger.Info().Int("entries", gallery.Len()).Str("file", cfg.Identity.GalleryFile).Msg("Gallery file enrolled")
	}

	metrics := mot.NewMetrics()
	extractor := newReplayExtractor()
	monitor := mot.NewMonitor(mot.MonitorConfig{
		Params:    cfg.Params(),
		Notifier:  buildNotifier(cfg.Alert, logger),
		Extractor: extractor,
		Matcher:   gallery,
		Sink:      sinks,
		Logger:    &logger,
		Metrics:   metrics,
		Clock:     mot.NewFrameClock(),
		Version:   cfg.System.Version,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
		server := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		g.Go(func() error {
			logger.Info().Str("addr", cfg.Metrics.Addr).Msg("Starting metrics server")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "Metrics server")
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	monitor.Start()
	g.Go(func() error {
		// Replay end stops metrics server
		defer cancel()
		return replay(gCtx, newLineReader(input), monitor, extractor, replayOptions{
			confidenceThreshold: cfg.Detection.ConfidenceThreshold,
			assignIDs:           cfg.Tracking.AssignIDs,
		}, logger)
	})
	err = g.Wait()
	monitor.Close()
	return err
}

type replayOptions struct {
	confidenceThreshold float64
	assignIDs           bool
}

func replay(ctx context.Context, reader *lineReader, monitor *mot.Monitor, extractor *replayExtractor, opts replayOptions, logger zerolog.Logger) error {
	frames := 0
	for {
		if ctx.Err() != nil {
			logger.Info().Int("frames", frames).Msg("Replay interrupted")
			return nil
		}
		line, err := reader.Next()
		if errors.Is(err, io.EOF) {
			logger.Info().Int("frames", frames).Msg("Replay finished")
			return nil
		}
		if err != nil {
			return err
		}
		if line.Command == commandReset {
			logger.Info().Msg("System state reset")
			monitor.Reset()
			continue
		}
		frame, embeddings := line.toFrame(opts.confidenceThreshold, opts.assignIDs)
		extractor.Put(frame.Index, embeddings)
		result := monitor.ProcessFrame(ctx, frame)
		frames++
		logger.Debug().
			Int64("frame", frame.Index).
			Ints64("active", result.ActiveIDs).
			Int("weapons", len(result.Weapons)).
			Int("identity_checks", result.Identity.Checked).
			Ints64("identified", result.Identity.Identified).
			Interface("estimates", result.Estimates).
			Msg("Frame processed")
	}
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" || path == "" {
		return io.NopCloser(os.Stdin), nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't open input '%s'", path)
	}
	return file, nil
}

func buildNotifier(cfg config.Alert, logger zerolog.Logger) mot.Notifier {
	notifiers := notify.Multi{notify.LogNotifier{Logger: logger}}
	if cfg.Player != "" {
		notifiers = append(notifiers, notify.SoundNotifier{
			Player:    cfg.Player,
			Args:      cfg.PlayerArgs,
			SoundPath: cfg.SoundPath,
			Logger:    logger,
		})
	}
	return notifiers
}

// enrollFile adds JSON lines entries to gallery and persists them when db is set
func enrollFile(path string, gallery *identity.Gallery, db *storage.DB, sink mot.EventSink) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "Can't open gallery file '%s'", path)
	}
	defer file.Close()
	entries, err := identity.ReadEntries(file)
	if err != nil {
		return errors.Wrapf(err, "Gallery file '%s'", path)
	}
	now := time.Now()
	for _, entry := range entries {
		if db != nil {
			err = db.Enroll(gallery, entry, sink, now)
		} else {
			err = gallery.Add(entry)
			if err == nil {
				err = sink.Emit(mot.NewEntryAddedEvent(entry.Name, entry.Role, now))
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}
