package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/CamberLoid/TrustlessSwap/internal/config"
	"github.com/CamberLoid/TrustlessSwap/internal/db"
	"github.com/CamberLoid/TrustlessSwap/internal/db/postgres"
	"github.com/CamberLoid/TrustlessSwap/internal/events"
	"github.com/CamberLoid/TrustlessSwap/internal/fhe"
	"github.com/CamberLoid/TrustlessSwap/internal/key"
	"github.com/CamberLoid/TrustlessSwap/internal/misc"
	"github.com/CamberLoid/TrustlessSwap/internal/swap"
	"github.com/CamberLoid/TrustlessSwap/internal/users"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// coprocessor 是服务端需要的协处理器能力
type coprocessor interface {
	fhe.Backend
	fhe.UserDecrypter
}

// closers 按打开的相反顺序关闭资源
type closers []func() error

func (cs *closers) add(f func() error) {
	*cs = append(*cs, f)
}

func (cs closers) Close() error {
	var errs []error
	for i := len(cs) - 1; i >= 0; i-- {
		if err := cs[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// InitLedgerStore 打开账本存储：sqlite 文件或者 PostgreSQL。
// postgres 同时返回同一数据库上的密文存储，供所有实例共享；sqlite 返回 nil
func InitLedgerStore(ctx context.Context, cfg config.DatabaseConfig, log zerolog.Logger) (swap.Store, fhe.CiphertextStore, error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		store := postgres.NewStore(pool)
		if err = store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		return store, postgres.NewCiphertextStore(pool), nil
	case "sqlite":
		store, err := db.OpenLedgerStore(ctx, cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("path", cfg.Path).Msg("sqlite ledger store opened")
		return store, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// InitCoprocessor 创建协处理器。shared 不为 nil 时密文保存在账本数据库中；
// 否则保存在单独的 sqlite 文件，不与账本共用连接
func InitCoprocessor(ctx context.Context, cfg config.FHEConfig, shared fhe.CiphertextStore, log zerolog.Logger, cs *closers) (coprocessor, error) {
	var store fhe.CiphertextStore
	switch {
	case shared != nil:
		store = shared
		log.Info().Msg("ciphertexts stored in the ledger database")
	case cfg.StorePath != "":
		s, err := db.OpenCiphertextStore(ctx, cfg.StorePath)
		if err != nil {
			return nil, err
		}
		cs.add(s.Close)
		store = s
		log.Info().Str("path", cfg.StorePath).Msg("sqlite ciphertext store opened")
	default:
		log.Warn().Msg("ciphertexts kept in memory, balances do not survive a restart")
		store = fhe.NewMemoryStore()
	}

	switch cfg.Backend {
	case "mock":
		log.Warn().Msg("using the cleartext mock coprocessor")
		return fhe.NewMockBackend(fhe.WithStore(store)), nil
	case "ckks":
		kc, err := loadOrCreateKeyChain(cfg.KeyFile, log)
		if err != nil {
			return nil, err
		}
		b, err := fhe.NewCKKSBackend(kc.CKKSKeyChain, fhe.WithStore(store))
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown fhe backend %q", cfg.Backend)
	}
}

func loadOrCreateKeyChain(path string, log zerolog.Logger) (*key.KeyChain, error) {
	kc, err := key.LoadKeyChain(path)
	if err == nil {
		log.Info().Str("key_file", path).Msg("coprocessor key loaded")
		return kc, nil
	}
	if _, statErr := os.Stat(path); !errors.Is(statErr, os.ErrNotExist) {
		return nil, err
	}

	if kc, err = key.GenerateKeyChain(); err != nil {
		return nil, err
	}
	if err = key.SaveKeyChain(path, kc); err != nil {
		return nil, err
	}
	log.Info().Str("key_file", path).Msg("coprocessor key generated")
	return kc, nil
}

// InitSinks 返回事件的发布目标。Redis 只在配置打开时连接
func InitSinks(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger, cs *closers) ([]events.Sink, error) {
	sinks := []events.Sink{events.NewLogSink(log)}
	if !cfg.Enabled {
		return sinks, nil
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	cs.add(client.Close)

	log.Info().Str("addr", cfg.Addr()).Str("stream", cfg.Stream).Msg("redis event stream enabled")
	return append(sinks, events.NewRedisPublisher(client, cfg.Stream, cfg.MaxLen)), nil
}

// ledgerAddress 解析配置中的账本地址，为空时使用默认地址
func ledgerAddress(cfg config.LedgerConfig) (users.Address, error) {
	if cfg.Address == "" {
		return swap.DefaultAddress, nil
	}
	return users.ParseAddress(cfg.Address)
}

// SeedReserve 把账本的原生余额补足到配置的储备金
func SeedReserve(ctx context.Context, ledger *swap.Ledger, reserve string, log zerolog.Logger) error {
	want, err := misc.ParseUnits(reserve, misc.EthDecimals)
	if err != nil {
		return fmt.Errorf("ledger.reserve: %w", err)
	}
	have, err := ledger.NativeBalance(ctx, ledger.Address())
	if err != nil {
		return err
	}
	if have.Cmp(want) >= 0 {
		return nil
	}

	diff := want.Sub(want, have)
	if _, err = ledger.Fund(ctx, ledger.Address(), diff); err != nil {
		return err
	}
	log.Info().
		Str("ledger", ledger.Address().String()).
		Str("added", misc.FormatUnits(diff, misc.EthDecimals)).
		Msg("ledger reserve seeded")
	return nil
}
