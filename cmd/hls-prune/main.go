// Command hls-prune removes transcoder output and cached settings of streams
// that no longer have a configured source.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codeBunny2022/rtsp-overlay/internal/adapter/postgres"
	"github.com/codeBunny2022/rtsp-overlay/internal/domain"
	"github.com/codeBunny2022/rtsp-overlay/internal/platform/logging"
	goredis "github.com/redis/go-redis/v9"
)

const (
	settingCachePattern = "setting_cache:*"
	scanCount           = 100
	connectTimeout      = 10 * time.Second
)

func main() {
	var (
		databaseURL = flag.String("database", os.Getenv("DATABASE_URL"), "PostgreSQL URL (or set DATABASE_URL env)")
		redisURL    = flag.String("redis", os.Getenv("REDIS_URL"), "Redis URL (or set REDIS_URL env); empty skips the cache")
		hlsRoot     = flag.String("hls-root", envOr("HLS_OUTPUT_ROOT", "./hls_output"), "HLS output root")
		dryRun      = flag.Bool("dry-run", false, "Dry run mode (report, don't delete)")
		verbose     = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	if *databaseURL == "" {
		log.Fatal("Database URL required (--database or DATABASE_URL env)")
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	logging.InitLogger(level, "text")

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pool, err := postgres.Connect(ctx, *databaseURL, "", nil)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	settings, err := postgres.NewSettingRepo(pool, postgres.NewBreaker(nil)).List(ctx)
	if err != nil {
		log.Fatalf("Failed to list stream settings: %v", err)
	}
	configured := configuredStreams(settings)
	slog.Info("Loaded stream settings", "configured", len(configured), "total", len(settings), "dry_run", *dryRun)

	removed, err := pruneOutput(*hlsRoot, configured, *dryRun)
	if err != nil {
		log.Fatalf("Failed to prune HLS output: %v", err)
	}
	slog.Info("HLS output pruned", "root", *hlsRoot, "removed", len(removed))

	if *redisURL != "" {
		opts, err := goredis.ParseURL(*redisURL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		rdb := goredis.NewClient(opts)
		defer func() { _ = rdb.Close() }()

		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		slog.Info("Connected to Redis", "url", sanitizeURL(*redisURL))

		evicted, err := pruneCache(context.Background(), rdb, configured, *dryRun)
		if err != nil {
			log.Fatalf("Failed to prune setting cache: %v", err)
		}
		slog.Info("Setting cache pruned", "evicted", evicted)
	}

	slog.Info("Prune complete")
}

// configuredStreams returns the ids of streams with a non-empty source.
func configuredStreams(settings []domain.StreamSetting) map[string]bool {
	configured := make(map[string]bool, len(settings))
	for _, s := range settings {
		if s.RTSPURL != "" {
			configured[s.StreamID] = true
		}
	}
	return configured
}

// pruneOutput removes every stream directory under root whose stream is not
// configured. Entries that are not valid stream ids are left alone.
func pruneOutput(root string, configured map[string]bool, dryRun bool) ([]string, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}

	var removed []string
	for _, entry := range entries {
		streamID := entry.Name()
		if !entry.IsDir() || domain.ValidateStreamID(streamID) != nil {
			slog.Debug("Skipping entry", "name", streamID)
			continue
		}
		if configured[streamID] {
			continue
		}

		if !dryRun {
			if err := os.RemoveAll(filepath.Join(root, streamID)); err != nil {
				return removed, fmt.Errorf("failed to remove output of %s: %w", streamID, err)
			}
		}
		slog.Debug("Removed stream output", "stream_id", streamID)
		removed = append(removed, streamID)
	}
	return removed, nil
}

// pruneCache deletes cached settings of streams that are not configured.
func pruneCache(ctx context.Context, rdb goredis.Cmdable, configured map[string]bool, dryRun bool) (int, error) {
	var cursor uint64
	evicted := 0

	for {
		keys, nextCursor, err := rdb.Scan(ctx, cursor, settingCachePattern, scanCount).Result()
		if err != nil {
			return evicted, fmt.Errorf("scan failed: %w", err)
		}

		for _, key := range keys {
			streamID := strings.TrimPrefix(key, "setting_cache:")
			if configured[streamID] {
				continue
			}
			if !dryRun {
				if err := rdb.Del(ctx, key).Err(); err != nil {
					return evicted, fmt.Errorf("failed to delete %s: %w", key, err)
				}
			}
			slog.Debug("Evicted cached setting", "stream_id", streamID)
			evicted++
		}

		cursor = nextCursor
		if cursor == 0 {
			return evicted, nil
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// sanitizeURL hides the password in a connection URL for logging.
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
