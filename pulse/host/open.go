package host

import (
	"context"
	"database/sql"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/teranos/cadence/am"
	"github.com/teranos/cadence/db"
	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/pulse/jobs"
	"github.com/teranos/cadence/pulse/jobs/builtin"
	"github.com/teranos/cadence/pulse/lock"
	"github.com/teranos/cadence/pulse/lock/natslock"
	"github.com/teranos/cadence/pulse/lock/redislock"
)

// Open connects the configured database and lock backend, applies
// migrations, and returns a stopped host with the built-in jobs registered.
// Close the host after Stop to release the connections.
func Open(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger) (*Host, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	conn, dialect, err := OpenDatabase(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	closers := []func() error{conn.Close}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	locks, closeLocks, err := OpenLocks(ctx, cfg.Lock, conn, dialect)
	if err != nil {
		closeAll()
		return nil, err
	}
	closers = append(closers, closeLocks)

	factory := jobs.NewFactory(conn, log)
	builtin.Register(factory, builtin.Options{
		Dialect:   dialect,
		Retention: cfg.Scheduler.ExecutionRetention,
	})

	h, err := New(cfg, Deps{DB: conn, Dialect: dialect, Locks: locks, Factory: factory}, log)
	if err != nil {
		closeAll()
		return nil, err
	}
	h.closers = closers
	return h, nil
}

// OpenDatabase opens and migrates the schedule database
func OpenDatabase(cfg am.DatabaseConfig, log *zap.SugaredLogger) (*sql.DB, db.Dialect, error) {
	dialect, ok := db.ParseDialect(cfg.Driver)
	if !ok {
		return nil, "", errors.Newf("unsupported database driver %q", cfg.Driver)
	}

	conn, err := db.Open(dialect, cfg.DSN, log)
	if err != nil {
		return nil, "", err
	}
	if cfg.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.Migrate(conn, dialect, log); err != nil {
		conn.Close()
		return nil, "", errors.Wrap(err, "failed to migrate schedule database")
	}
	return conn, dialect, nil
}

// OpenLocks connects the configured trigger lock backend.
// The returned close function releases the backend connection.
func OpenLocks(ctx context.Context, cfg am.LockConfig, conn *sql.DB, dialect db.Dialect) (lock.Store, func() error, error) {
	switch cfg.Driver {
	case am.LockDriverSQL, "":
		return lock.NewSQLStore(conn, dialect), func() error { return nil }, nil

	case am.LockDriverRedis:
		store, err := redislock.Dial(ctx, &redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Redis.KeyPrefix)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	case am.LockDriverNATS:
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("cadence"))
		if err != nil {
			return nil, nil, errors.MarkLockStore(err, "connect to nats at "+cfg.NATS.URL)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, nil, errors.MarkLockStore(err, "open jetstream")
		}
		store, err := natslock.Open(ctx, js, cfg.NATS.Bucket)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return store, func() error { return nc.Drain() }, nil

	default:
		return nil, nil, errors.Newf("unsupported lock driver %q", cfg.Driver)
	}
}
