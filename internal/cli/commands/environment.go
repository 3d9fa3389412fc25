package commands

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/entrymap/internal/backend"
	"github.com/conduit-lang/entrymap/internal/backend/memory"
	redisbackend "github.com/conduit-lang/entrymap/internal/backend/redis"
	s3backend "github.com/conduit-lang/entrymap/internal/backend/s3"
	sqlbackend "github.com/conduit-lang/entrymap/internal/backend/sql"
	"github.com/conduit-lang/entrymap/internal/cli/config"
	"github.com/conduit-lang/entrymap/internal/metrics"
	"github.com/conduit-lang/entrymap/internal/orm/attribute"
	"github.com/conduit-lang/entrymap/internal/orm/crud"
	"github.com/conduit-lang/entrymap/internal/orm/keys"
	"github.com/conduit-lang/entrymap/internal/orm/password"
	"github.com/conduit-lang/entrymap/internal/orm/schema"
)

// rawEntry is the untyped entry shape used by the CLI: every stored
// attribute lands in Attributes.
type rawEntry struct {
	DN         string                      `entry:"dn"`
	Attributes []attribute.CustomAttribute `entry:"attrs"`
	Classes    []string                    `entry:"objectclasses"`
}

// attributeMap flattens an entry for printing
func (e *rawEntry) attributeMap(classes []string) map[string][]string {
	result := make(map[string][]string, len(e.Attributes)+1)
	for _, a := range e.Attributes {
		result[a.Name] = a.StringValues()
	}
	if len(classes) > 0 {
		result[attribute.ObjectClass] = classes
	}
	return result
}

// backendOpener opens the configured backend. Tests replace it.
var backendOpener = openBackend

type environment struct {
	config  *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	manager *crud.Manager
	closer  func() error
}

// newEnvironment loads the configuration and opens the backend. objectClasses
// become the static object classes of rawEntry and select SQL tables.
func newEnvironment(ctx context.Context, objectClasses []string) (*environment, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := cfg.Log.Logger()
	if err != nil {
		return nil, err
	}

	b, closer, err := backendOpener(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	registry := schema.NewRegistry()
	if err := registry.Register(&rawEntry{}, schema.EntryOptions{
		ObjectClasses:     objectClasses,
		SortDynamicByName: true,
	}); err != nil {
		closer()
		return nil, err
	}

	m := metrics.New()
	opts := []crud.Option{crud.WithLogger(logger), crud.WithObserver(m)}
	if cfg.Password.Hash {
		opts = append(opts, crud.WithExtension(password.New(cfg.Password.Cost)))
	}

	return &environment{
		config:  cfg,
		logger:  logger,
		metrics: m,
		manager: crud.NewManager(registry, b, opts...),
		closer:  closer,
	}, nil
}

// Close releases the backend and flushes the logger
func (e *environment) Close() error {
	_ = e.logger.Sync()
	return e.closer()
}

// lookup reads one entry as a flat attribute map
func (e *environment) lookup(ctx context.Context, key string, attrs ...string) (map[string][]string, error) {
	entry, err := crud.Find[rawEntry](ctx, e.manager, key, attrs...)
	if err != nil {
		return nil, err
	}
	classes, err := e.manager.ObjectClasses(entry)
	if err != nil {
		return nil, err
	}
	return entry.attributeMap(classes), nil
}

func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (backend.Backend, func() error, error) {
	noop := func() error { return nil }
	converter := keys.NewConverter(cfg.Keys.UseAllRDN)

	switch cfg.Backend.Type {
	case config.BackendSQL:
		dialect, err := sqlbackend.DialectFor(cfg.Backend.SQL.Driver)
		if err != nil {
			return nil, nil, err
		}
		db, err := sql.Open(driverName(cfg.Backend.SQL.Driver), cfg.Backend.SQL.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}
		return sqlbackend.New(db, dialect, sqlbackend.WithLogger(logger)), db.Close, nil

	case config.BackendRedis:
		b, err := redisbackend.NewWithConfig(redisbackend.Config{
			Addr:     cfg.Backend.Redis.Addr,
			Password: cfg.Backend.Redis.Password,
			DB:       cfg.Backend.Redis.DB,
			Prefix:   cfg.Backend.Redis.Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		b.SetKeyConverter(converter)
		return b, b.Close, nil

	case config.BackendS3:
		s3 := cfg.Backend.S3
		b, err := s3backend.NewWithConfig(ctx, s3backend.Config{
			Bucket:          s3.Bucket,
			Prefix:          s3.Prefix,
			Region:          s3.Region,
			Endpoint:        s3.Endpoint,
			ForcePathStyle:  s3.ForcePathStyle,
			AccessKeyID:     s3.AccessKeyID,
			SecretAccessKey: s3.SecretAccessKey,
		})
		if err != nil {
			return nil, nil, err
		}
		b.SetKeyConverter(converter)
		return b, noop, nil

	default:
		return memory.New(), noop, nil
	}
}

// driverName maps configured driver aliases to registered database/sql names
func driverName(driver string) string {
	switch strings.ToLower(driver) {
	case "postgresql":
		return "postgres"
	case "sqlite":
		return "sqlite3"
	default:
		return strings.ToLower(driver)
	}
}
