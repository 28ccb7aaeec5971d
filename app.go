package main

import (
	"context"
	"fmt"

	"fileconvert/config"
	"fileconvert/converters"
	"fileconvert/exttool"
	"fileconvert/formats"
	"fileconvert/pipeline"
	"fileconvert/router"
	"fileconvert/services"
	"fileconvert/worker"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app holds the process-scoped handles shared by the worker and api commands.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	redis    *redis.Client
	queue    *worker.Queue
	store    services.RecordStore
	storage  services.StorageGateway
	notifier services.Notifier
	router   *router.Router
	toolbox  converters.Toolbox

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	a.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	a.closers = append(a.closers, func() { a.redis.Close() })
	if err := a.redis.Ping(ctx).Err(); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
	a.queue = worker.NewQueue(a.redis, worker.KeysFrom(cfg.Queue))

	if err := a.openStore(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openNotifier(); err != nil {
		a.Close()
		return nil, err
	}

	a.toolbox = toolboxFrom(cfg.Tools)
	var pdf converters.PDFRenderer
	if cfg.Tools.GotenbergURL != "" {
		pdf = services.NewGotenbergService(cfg.Tools.GotenbergURL, cfg.Tools.GotenbergPDFA, cfg.Tools.Timeout, cfg.Tools.MaxOutput)
		logger.Info("pdf rendering through gotenberg", zap.String("url", cfg.Tools.GotenbergURL))
	}
	rt, err := router.NewRouter(formats.Default(), converters.All(a.toolbox, pdf)...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.router = rt
	return a, nil
}

func (a *app) openStore() error {
	switch a.cfg.Database.Driver {
	case "memory":
		a.store = services.NewMemoryStore()
		a.logger.Warn("using in-memory record store; records are lost on restart")
	default:
		pg, err := services.NewPostgresStore(a.cfg.Database.DSN(), a.cfg.Database.MaxOpenConns)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { pg.Close() })
		a.store = pg
		a.logger.Info("connected to database", zap.String("host", a.cfg.Database.Host))
	}
	return nil
}

func (a *app) openStorage(ctx context.Context) error {
	sc := a.cfg.Storage
	switch sc.Driver {
	case "memory":
		a.storage = services.NewMemoryStorage()
	case "minio":
		m, err := services.NewMinioStorage(sc)
		if err != nil {
			return err
		}
		if err := m.EnsureBuckets(ctx, sc.UploadBucket, sc.ConvertedBucket); err != nil {
			return err
		}
		a.storage = m
	default:
		s3, err := services.NewS3Service(sc)
		if err != nil {
			return fmt.Errorf("failed to create s3 session: %w", err)
		}
		a.storage = s3
	}
	a.logger.Info("storage ready",
		zap.String("driver", sc.Driver),
		zap.String("upload_bucket", sc.UploadBucket),
		zap.String("converted_bucket", sc.ConvertedBucket),
	)
	return nil
}

func (a *app) openNotifier() error {
	sinks := services.MultiNotifier{
		services.NewRedisNotifier(a.redis, a.cfg.Queue.StatusPrefix, a.cfg.Queue.EventsChannel),
		services.NewLogNotifier(a.logger),
	}
	if a.cfg.NATS.URL != "" {
		n, err := services.NewNATSNotifier(a.cfg.NATS.URL, a.cfg.NATS.Subject)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, n.Close)
		sinks = append(sinks, n)
	}
	a.notifier = sinks
	return nil
}

func (a *app) pipeline() *pipeline.Service {
	return pipeline.NewService(pipeline.Deps{
		Router:   a.router,
		Store:    a.store,
		Queue:    a.queue,
		Storage:  a.storage,
		Notifier: a.notifier,
		Logger:   a.logger,
	}, a.cfg.Worker.MaxRetries)
}

func (a *app) pool() *worker.Pool {
	return worker.NewPool(a.cfg, worker.Deps{
		Queue:    a.queue,
		Store:    a.store,
		Storage:  a.storage,
		Router:   a.router,
		Notifier: a.notifier,
		Logger:   a.logger,
	})
}

// Close releases handles in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func toolboxFrom(tc config.ToolsConfig) converters.Toolbox {
	tool := func(name, binary string) exttool.Tool {
		return exttool.Tool{Name: name, Binary: binary, Timeout: tc.Timeout, MaxOutput: tc.MaxOutput}
	}
	return converters.Toolbox{
		LibreOffice: tool("libreoffice", tc.LibreOffice),
		ImageMagick: tool("imagemagick", tc.ImageMagick),
		Dcraw:       tool("dcraw", tc.Dcraw),
		RawTherapee: tool("rawtherapee", tc.RawTherapee),
		Calibre:     tool("calibre", tc.Calibre),
		PDFLatex:    tool("pdflatex", tc.PDFLatex),
		ScratchDir:  tc.ScratchDir,
	}
}
