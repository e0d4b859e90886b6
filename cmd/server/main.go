package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rophim/server/internal/app"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
}

var (
	host = configVar[string]{
		envKey:       "SERVER_HOST",
		flagKey:      "host",
		defaultValue: "0.0.0.0",
	}
	port = configVar[int]{
		envKey:       "SERVER_PORT",
		flagKey:      "port",
		defaultValue: 8080,
	}
	logLevel = configVar[string]{
		envKey:       "SERVER_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
	}
	logPath = configVar[string]{
		envKey:       "SERVER_LOG_PATH",
		flagKey:      "log-path",
		defaultValue: "",
	}
	redisHost = configVar[string]{
		envKey:       "REDIS_HOST",
		flagKey:      "redis-host",
		defaultValue: "localhost",
	}
	redisPort = configVar[int]{
		envKey:       "REDIS_PORT",
		flagKey:      "redis-port",
		defaultValue: 6379,
	}
	redisPassword = configVar[string]{
		envKey:       "REDIS_PASSWORD",
		flagKey:      "redis-password",
		defaultValue: "",
	}
	cacheBackend = configVar[string]{
		envKey:       "SERVER_CACHE_BACKEND",
		flagKey:      "cache-backend",
		defaultValue: "disk",
	}
	cacheDir = configVar[string]{
		envKey:       "SERVER_CACHE_DIR",
		flagKey:      "cache-dir",
		defaultValue: "./hls-cache",
	}
	cacheTTL = configVar[time.Duration]{
		envKey:       "SERVER_CACHE_TTL",
		flagKey:      "cache-ttl",
		defaultValue: 5 * time.Minute,
	}
	cacheMaxItems = configVar[int]{
		envKey:       "SERVER_CACHE_MAX_ITEMS",
		flagKey:      "cache-max-items",
		defaultValue: 500,
	}
	cacheMaxBytes = configVar[int64]{
		envKey:       "SERVER_CACHE_MAX_BYTES",
		flagKey:      "cache-max-bytes",
		defaultValue: 80 << 20,
	}
	upstreamTimeout = configVar[time.Duration]{
		envKey:       "SERVER_UPSTREAM_TIMEOUT",
		flagKey:      "upstream-timeout",
		defaultValue: 30 * time.Second,
	}
	upstreamRPS = configVar[int]{
		envKey:       "SERVER_UPSTREAM_RPS",
		flagKey:      "upstream-rps",
		defaultValue: 0,
	}
	roomTTL = configVar[time.Duration]{
		envKey:       "SERVER_ROOM_TTL",
		flagKey:      "room-ttl",
		defaultValue: 24 * time.Hour,
	}
)

func loadAppConfig() *app.AppConfig {
	pflag.String(host.flagKey, host.defaultValue, "Server host")
	pflag.Int(port.flagKey, port.defaultValue, "Server port")
	pflag.String(logLevel.flagKey, logLevel.defaultValue, "Logging level")
	pflag.String(logPath.flagKey, logPath.defaultValue, "Log file path, empty for stdout")
	pflag.String(redisHost.flagKey, redisHost.defaultValue, "Redis host")
	pflag.Int(redisPort.flagKey, redisPort.defaultValue, "Redis port")
	pflag.String(redisPassword.flagKey, redisPassword.defaultValue, "Redis password")
	pflag.String(cacheBackend.flagKey, cacheBackend.defaultValue, "Segment cache backend: disk or memory")
	pflag.String(cacheDir.flagKey, cacheDir.defaultValue, "Segment cache directory for the disk backend")
	pflag.Duration(cacheTTL.flagKey, cacheTTL.defaultValue, "Segment TTL for the memory backend")
	pflag.Int(cacheMaxItems.flagKey, cacheMaxItems.defaultValue, "Segment count ceiling for the memory backend")
	pflag.Int64(cacheMaxBytes.flagKey, cacheMaxBytes.defaultValue, "Segment byte ceiling for the memory backend")
	pflag.Duration(upstreamTimeout.flagKey, upstreamTimeout.defaultValue, "Timeout for a single upstream fetch")
	pflag.Int(upstreamRPS.flagKey, upstreamRPS.defaultValue, "Upstream requests per second, 0 for unlimited")
	pflag.Duration(roomTTL.flagKey, roomTTL.defaultValue, "Watch-party room expiry")
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	viper.BindEnv(host.flagKey, host.envKey)
	viper.BindEnv(port.flagKey, port.envKey)
	viper.BindEnv(logLevel.flagKey, logLevel.envKey)
	viper.BindEnv(logPath.flagKey, logPath.envKey)
	viper.BindEnv(redisHost.flagKey, redisHost.envKey)
	viper.BindEnv(redisPort.flagKey, redisPort.envKey)
	viper.BindEnv(redisPassword.flagKey, redisPassword.envKey)
	viper.BindEnv(cacheBackend.flagKey, cacheBackend.envKey)
	viper.BindEnv(cacheDir.flagKey, cacheDir.envKey)
	viper.BindEnv(cacheTTL.flagKey, cacheTTL.envKey)
	viper.BindEnv(cacheMaxItems.flagKey, cacheMaxItems.envKey)
	viper.BindEnv(cacheMaxBytes.flagKey, cacheMaxBytes.envKey)
	viper.BindEnv(upstreamTimeout.flagKey, upstreamTimeout.envKey)
	viper.BindEnv(upstreamRPS.flagKey, upstreamRPS.envKey)
	viper.BindEnv(roomTTL.flagKey, roomTTL.envKey)

	return &app.AppConfig{
		Host:            viper.GetString(host.flagKey),
		Port:            viper.GetInt(port.flagKey),
		LogLevel:        viper.GetString(logLevel.flagKey),
		LogPath:         viper.GetString(logPath.flagKey),
		RedisHost:       viper.GetString(redisHost.flagKey),
		RedisPort:       viper.GetInt(redisPort.flagKey),
		RedisPassword:   viper.GetString(redisPassword.flagKey),
		CacheBackend:    viper.GetString(cacheBackend.flagKey),
		CacheDir:        viper.GetString(cacheDir.flagKey),
		CacheTTL:        viper.GetDuration(cacheTTL.flagKey),
		CacheMaxItems:   viper.GetInt(cacheMaxItems.flagKey),
		CacheMaxBytes:   viper.GetInt64(cacheMaxBytes.flagKey),
		UpstreamTimeout: viper.GetDuration(upstreamTimeout.flagKey),
		UpstreamRPS:     viper.GetInt(upstreamRPS.flagKey),
		RoomTTL:         viper.GetDuration(roomTTL.flagKey),
	}
}

func main() {
	ctx := context.Background()

	appConfig := loadAppConfig()
	if err := appConfig.Validate(); err != nil {
		log.Fatal(err)
	}

	jsonConfig, _ := json.MarshalIndent(appConfig, "", "  ")
	fmt.Printf("starting app with config: %s\n", jsonConfig)

	log.Fatal(app.Run(ctx, appConfig))
}
