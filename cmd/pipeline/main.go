// Command pipeline starts the CreateCollab transcoding API service.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"createcollab/internal/api"
	"createcollab/internal/catalog"
	"createcollab/internal/encoder"
	"createcollab/internal/lock"
	"createcollab/internal/objectstore"
	"createcollab/internal/observability/logging"
	"createcollab/internal/observability/metrics"
	"createcollab/internal/pipeline"
	"createcollab/internal/probe"
	"createcollab/internal/publish"
	"createcollab/internal/server"
	"createcollab/internal/serverutil"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	storageDriver := flag.String("storage-driver", "", "catalog driver (json or postgres)")
	dataPath := flag.String("data", "", "path to JSON catalog file")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	objectEndpoint := flag.String("object-endpoint", "", "object storage endpoint (e.g. http://127.0.0.1:9000)")
	objectRegion := flag.String("object-region", "", "object storage region")
	objectAccessKey := flag.String("object-access-key", "", "object storage access key")
	objectSecretKey := flag.String("object-secret-key", "", "object storage secret key")
	objectBucket := flag.String("object-bucket", "", "object storage bucket name")
	objectUseSSL := flag.Bool("object-use-ssl", false, "enable TLS for object storage requests")
	objectPrefix := flag.String("object-prefix", "", "object storage key prefix")
	lockRedisAddr := flag.String("lock-redis-addr", "", "Redis address for distributed dispatch locks")
	lockRedisAddrs := flag.String("lock-redis-addrs", "", "comma separated Redis addresses for distributed dispatch locks")
	lockRedisUsername := flag.String("lock-redis-username", "", "Redis username for dispatch locks")
	lockRedisPassword := flag.String("lock-redis-password", "", "Redis password for dispatch locks")
	lockRedisMasterName := flag.String("lock-redis-sentinel-master", "", "Redis sentinel master name for dispatch locks")
	lockRedisKeyPrefix := flag.String("lock-redis-key-prefix", "", "key prefix for dispatch lock entries")
	lockTTL := flag.Duration("lock-ttl", 0, "TTL for dispatch locks")
	ffprobeBinary := flag.String("ffprobe-binary", "", "path to the ffprobe binary")
	ffmpegBinary := flag.String("ffmpeg-binary", "", "path to the ffmpeg binary")
	tierTimeout := flag.Duration("tier-timeout", 0, "per-tier encode deadline")
	workers := flag.Int("workers", 0, "number of concurrent transcode workers")
	queueSize := flag.Int("queue-size", 0, "transcode queue capacity")
	workDir := flag.String("work-dir", "", "scratch directory for transcode workspaces")
	uploadConcurrency := flag.Int("upload-concurrency", 0, "parallel segment uploads per tier")
	mediaEndpoint := flag.String("media-endpoint", "", "retrieval endpoint written into published manifests")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("CREATECOLLAB_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("CREATECOLLAB_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	listenAddr := firstNonEmpty(*addr, os.Getenv("CREATECOLLAB_ADDR"))
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	postgresDefaultDSN := strings.TrimSpace(firstNonEmpty(*postgresDSN, os.Getenv("CREATECOLLAB_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
	driver := strings.ToLower(firstNonEmpty(*storageDriver, os.Getenv("CREATECOLLAB_STORAGE_DRIVER")))
	if driver == "" {
		if postgresDefaultDSN != "" {
			driver = "postgres"
		} else {
			driver = "json"
		}
	}

	var store catalog.Store
	switch driver {
	case "json":
		dataFile := firstNonEmpty(*dataPath, os.Getenv("CREATECOLLAB_DATA"))
		if dataFile == "" {
			dataFile = "data/catalog.json"
		}
		jsonStore, err := catalog.NewJSONStore(dataFile)
		if err != nil {
			logger.Error("failed to open catalog", "error", err)
			os.Exit(1)
		}
		store = jsonStore
	case "postgres":
		if postgresDefaultDSN == "" {
			logger.Error("postgres catalog selected without DSN")
			os.Exit(1)
		}
		pgStore, err := catalog.NewPostgresStore(ctx, catalog.PostgresConfig{
			DSN:                 postgresDefaultDSN,
			MaxConnections:      int32(resolveInt(*postgresMaxConns, "CREATECOLLAB_POSTGRES_MAX_CONNS")),
			MinConnections:      int32(resolveInt(*postgresMinConns, "CREATECOLLAB_POSTGRES_MIN_CONNS")),
			MaxConnLifetime:     resolveDuration(*postgresMaxConnLifetime, "CREATECOLLAB_POSTGRES_MAX_CONN_LIFETIME", 0),
			MaxConnIdleTime:     resolveDuration(*postgresMaxConnIdle, "CREATECOLLAB_POSTGRES_MAX_CONN_IDLE", 0),
			HealthCheckInterval: resolveDuration(*postgresHealthInterval, "CREATECOLLAB_POSTGRES_HEALTH_INTERVAL", 0),
			AcquireTimeout:      resolveDuration(*postgresAcquireTimeout, "CREATECOLLAB_POSTGRES_ACQUIRE_TIMEOUT", 0),
			ApplicationName:     firstNonEmpty(*postgresAppName, os.Getenv("CREATECOLLAB_POSTGRES_APP_NAME")),
		})
		if err != nil {
			logger.Error("failed to open catalog", "error", err)
			os.Exit(1)
		}
		store = pgStore
	default:
		logger.Error("unsupported catalog driver", "driver", driver)
		os.Exit(1)
	}

	var objects objectstore.Store
	objectCfg := objectstore.S3Config{
		Endpoint:  firstNonEmpty(*objectEndpoint, os.Getenv("CREATECOLLAB_OBJECT_ENDPOINT")),
		Region:    firstNonEmpty(*objectRegion, os.Getenv("CREATECOLLAB_OBJECT_REGION")),
		AccessKey: firstNonEmpty(*objectAccessKey, os.Getenv("CREATECOLLAB_OBJECT_ACCESS_KEY")),
		SecretKey: firstNonEmpty(*objectSecretKey, os.Getenv("CREATECOLLAB_OBJECT_SECRET_KEY")),
		Bucket:    firstNonEmpty(*objectBucket, os.Getenv("CREATECOLLAB_OBJECT_BUCKET")),
		UseSSL:    resolveBool(*objectUseSSL, "CREATECOLLAB_OBJECT_USE_SSL"),
		Prefix:    firstNonEmpty(*objectPrefix, os.Getenv("CREATECOLLAB_OBJECT_PREFIX")),
	}
	if objectCfg.Endpoint != "" || objectCfg.Bucket != "" {
		s3Store, err := objectstore.NewS3Store(objectCfg)
		if err != nil {
			logger.Error("failed to configure object storage", "error", err)
			os.Exit(1)
		}
		objects = s3Store
	} else {
		logger.Warn("object storage not configured, using in-memory store; media will not survive restarts")
		objects = objectstore.NewMemoryStore()
	}

	var (
		locker      lock.Locker
		lockerClose func() error
	)
	lockRedisCfg := lock.RedisConfig{
		Addr:       firstNonEmpty(*lockRedisAddr, os.Getenv("CREATECOLLAB_LOCK_REDIS_ADDR")),
		Addrs:      splitAndTrim(firstNonEmpty(*lockRedisAddrs, os.Getenv("CREATECOLLAB_LOCK_REDIS_ADDRS"))),
		Username:   firstNonEmpty(*lockRedisUsername, os.Getenv("CREATECOLLAB_LOCK_REDIS_USERNAME")),
		Password:   firstNonEmpty(*lockRedisPassword, os.Getenv("CREATECOLLAB_LOCK_REDIS_PASSWORD")),
		MasterName: firstNonEmpty(*lockRedisMasterName, os.Getenv("CREATECOLLAB_LOCK_REDIS_SENTINEL_MASTER")),
		KeyPrefix:  firstNonEmpty(*lockRedisKeyPrefix, os.Getenv("CREATECOLLAB_LOCK_REDIS_KEY_PREFIX")),
	}
	if lockRedisCfg.Addr != "" || len(lockRedisCfg.Addrs) > 0 {
		redisLocker, err := lock.NewRedisLocker(ctx, lockRedisCfg)
		if err != nil {
			logger.Error("failed to connect dispatch lock Redis", "error", err)
			os.Exit(1)
		}
		locker = redisLocker
		lockerClose = redisLocker.Close
	} else {
		locker = lock.NewMemoryLocker()
	}

	prober := probe.NewFFprober(probe.FFproberConfig{
		Binary: firstNonEmpty(*ffprobeBinary, os.Getenv("CREATECOLLAB_FFPROBE_BINARY")),
	})
	enc := encoder.NewFFmpegEncoder(encoder.FFmpegConfig{
		Binary:      firstNonEmpty(*ffmpegBinary, os.Getenv("CREATECOLLAB_FFMPEG_BINARY")),
		TierTimeout: resolveDuration(*tierTimeout, "CREATECOLLAB_TIER_TIMEOUT", 0),
		Logger:      logging.WithComponent(logger, "encoder"),
	})
	publisher := publish.NewPublisher(publish.Config{
		Objects:           objects,
		Endpoint:          firstNonEmpty(*mediaEndpoint, os.Getenv("CREATECOLLAB_MEDIA_ENDPOINT")),
		UploadConcurrency: resolveInt(*uploadConcurrency, "CREATECOLLAB_UPLOAD_CONCURRENCY"),
		Logger:            logging.WithComponent(logger, "publish"),
	})

	processor := pipeline.NewProcessor(pipeline.Config{
		Catalog:   store,
		Objects:   objects,
		Prober:    prober,
		Encoder:   enc,
		Publisher: publisher,
		Locker:    locker,
		Workers:   resolveInt(*workers, "CREATECOLLAB_WORKERS"),
		QueueSize: resolveInt(*queueSize, "CREATECOLLAB_QUEUE_SIZE"),
		LockTTL:   resolveDuration(*lockTTL, "CREATECOLLAB_LOCK_TTL", 0),
		WorkDir:   firstNonEmpty(*workDir, os.Getenv("CREATECOLLAB_WORK_DIR")),
		Logger:    logging.WithComponent(logger, "pipeline"),
		Metrics:   recorder,
	})
	processor.Start()

	handler := api.NewHandler(store, objects, processor, logging.WithComponent(logger, "api"))

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("CREATECOLLAB_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("CREATECOLLAB_TLS_KEY")),
		},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	certFile, keyFile := srv.TLSFiles()
	logger.Info("CreateCollab pipeline listening", "addr", listenAddr, "catalog_driver", driver)
	if certFile != "" && keyFile != "" {
		logger.Info("TLS enabled", "cert_file", certFile)
	}
	logger.Info("metrics endpoint available", "path", "/metrics")

	runErr := serverutil.Run(ctx, serverutil.Config{
		Server: srv.HTTPServer(),
		TLS: serverutil.TLSConfig{
			CertFile: certFile,
			KeyFile:  keyFile,
		},
	})
	if runErr != nil {
		logger.Error("server error", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := processor.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to drain transcode workers", "error", err)
	}
	if err := store.Close(shutdownCtx); err != nil {
		logger.Warn("failed to close catalog", "error", err)
	}
	if lockerClose != nil {
		if err := lockerClose(); err != nil {
			logger.Warn("failed to close dispatch lock Redis", "error", err)
		}
	}

	logger.Info("server stopped")
	if runErr != nil {
		os.Exit(1)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return fallback
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
