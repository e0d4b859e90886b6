package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rophim/server/internal/controller"
	"github.com/rophim/server/internal/metrics"
	roomredis "github.com/rophim/server/internal/repository/room/redis"
	"github.com/rophim/server/internal/repository/segment"
	segmentdisk "github.com/rophim/server/internal/repository/segment/disk"
	segmentmemory "github.com/rophim/server/internal/repository/segment/memory"
	sessioninmemory "github.com/rophim/server/internal/repository/session/inmemory"
	"github.com/rophim/server/internal/service/hls"
	"github.com/rophim/server/internal/service/watchparty"
	"github.com/rophim/server/pkg/ctxlogger"
	"github.com/rophim/server/pkg/randstr"
	"github.com/rophim/server/pkg/redisclient"
)

const roomIDCharset = "0123456789abcdef"

type AppConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
	LogPath  string `json:"log_path"`

	RedisHost     string `json:"redis_host"`
	RedisPort     int    `json:"redis_port"`
	RedisPassword string `json:"-"`

	// CacheBackend selects where proxied segments are stored: "disk" or
	// "memory".
	CacheBackend  string        `json:"cache_backend"`
	CacheDir      string        `json:"cache_dir"`
	CacheTTL      time.Duration `json:"cache_ttl"`
	CacheMaxItems int           `json:"cache_max_items"`
	CacheMaxBytes int64         `json:"cache_max_bytes"`

	UpstreamTimeout time.Duration `json:"upstream_timeout"`
	UpstreamRPS     int           `json:"upstream_rps"`

	RoomTTL time.Duration `json:"room_ttl"`
}

func (cfg *AppConfig) Validate() error {
	if cfg.Port < 1 {
		return fmt.Errorf("port must be greater than 0")
	}
	switch cfg.CacheBackend {
	case "disk", "memory":
	default:
		return fmt.Errorf("cache backend must be disk or memory, got %q", cfg.CacheBackend)
	}
	if cfg.CacheBackend == "disk" && cfg.CacheDir == "" {
		return fmt.Errorf("cache dir is required for the disk backend")
	}

	return nil
}

// segmentCache is the union of what the hls and watch-party services need
// from a cache backend.
type segmentCache interface {
	Get(ctx context.Context, namespace, key string) (io.ReadCloser, segment.Meta, error)
	NewWriter(ctx context.Context, namespace, key, contentType string) (segment.Writer, error)
	Clear(ctx context.Context, namespace string) error
}

func Run(ctx context.Context, cfg *AppConfig) error {
	logLevel := slog.LevelInfo
	if err := logLevel.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	logOutput := os.Stdout
	if cfg.LogPath != "" {
		f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		logOutput = f
	}

	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(logOutput, &slog.HandlerOptions{
			Level: logLevel,
		}),
	}
	logger := slog.New(&h)

	rc, err := redisclient.NewRedisClient(&redisclient.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		return fmt.Errorf("failed to create redis client: %w", err)
	}
	defer rc.Close()

	var cache segmentCache
	switch cfg.CacheBackend {
	case "disk":
		cache = segmentdisk.NewRepo(cfg.CacheDir, logger)
	default:
		cache = segmentmemory.NewRepo(segmentmemory.Config{
			TTL:      cfg.CacheTTL,
			MaxItems: cfg.CacheMaxItems,
			MaxBytes: cfg.CacheMaxBytes,
		})
	}

	roomRepo := roomredis.NewRepo(rc, logger, cfg.RoomTTL)
	generator := randstr.New([]byte(roomIDCharset))

	roomService := watchparty.NewService(roomRepo, cache, generator, logger, watchparty.Config{})
	hlsService := hls.NewService(cache, logger, hls.Config{
		UpstreamTimeout:   cfg.UpstreamTimeout,
		RequestsPerSecond: cfg.UpstreamRPS,
	})

	ctrl := controller.NewController(roomService, hlsService, sessioninmemory.NewRepo(), metrics.New(), logger)
	server := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), Handler: ctrl.GetMux()}

	// graceful shutdown
	serverCtx, serverStopCtx := context.WithCancel(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sig

		shutdownCtx, c := context.WithTimeout(serverCtx, 30*time.Second)
		defer c()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				log.Fatal("graceful shutdown timed out.. forcing exit.")
			}
		}()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Fatal(err)
		}
		serverStopCtx()
	}()

	logger.InfoContext(serverCtx, "starting server", "address", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	<-serverCtx.Done()

	return nil
}
