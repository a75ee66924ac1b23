// 包 config 读取服务端配置：YAML 文件加上 TSWAP_ 前缀的环境变量
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	FHE      FHEConfig      `mapstructure:"fhe"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // debug, release, test
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// MemoryPath 是 sqlite 的内存数据库，进程退出后丢失
const MemoryPath = ":memory:"

// DatabaseConfig 选择账本存储。sqlite 使用 Path，postgres 使用其余字段
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// RedisConfig 只用于发布事件流，Enabled 为 false 时不连接 Redis
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	MaxLen   int64  `mapstructure:"max_len"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

// FHEConfig 选择协处理器
// Backend: mock 或 ckks；ckks 需要 KeyFile（不存在时生成）
// StorePath: 密文与 ACL 的 sqlite 文件，为空时保存在内存（只能配合内存账本）。
// postgres 驱动下密文保存在账本数据库中，StorePath 不使用
type FHEConfig struct {
	Backend   string `mapstructure:"backend"`
	KeyFile   string `mapstructure:"key_file"`
	StorePath string `mapstructure:"store_path"`
}

// LedgerConfig
// Address 为空时使用默认地址；Reserve 是启动时注入账本的 ETH 储备（十进制 ETH）
type LedgerConfig struct {
	Address string `mapstructure:"address"`
	Reserve string `mapstructure:"reserve"`
	Faucet  bool   `mapstructure:"faucet"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values: TSWAP_DATABASE_DRIVER,
// TSWAP_JWT_SECRET and so on.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 16001)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "ledger.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "trustlessswap")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "trustlessswap:events")
	v.SetDefault("redis.max_len", 100000)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "1h")
	v.SetDefault("jwt.issuer", "trustlessswap")
	v.SetDefault("fhe.backend", "mock")
	v.SetDefault("fhe.key_file", "coprocessor.key.json")
	v.SetDefault("fhe.store_path", "coprocessor.db")
	v.SetDefault("ledger.address", "")
	v.SetDefault("ledger.reserve", "0")
	v.SetDefault("ledger.faucet", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("TSWAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// Validate 检查互相依赖的配置项
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	switch c.FHE.Backend {
	case "mock":
	case "ckks":
		if c.FHE.KeyFile == "" {
			return fmt.Errorf("fhe.key_file is required for the ckks backend")
		}
	default:
		return fmt.Errorf("unknown fhe backend %q", c.FHE.Backend)
	}
	// 账本持久化时密文也必须持久化，否则重启后余额句柄全部失效。
	// postgres 的密文保存在同一个数据库里
	if c.Database.Driver == "sqlite" && c.Database.Path != MemoryPath && c.FHE.StorePath == "" {
		return fmt.Errorf("fhe.store_path is required when the ledger is stored in %s", c.Database.Path)
	}
	if len(c.JWT.Secret) < 16 {
		return fmt.Errorf("jwt.secret must be at least 16 bytes")
	}
	return nil
}
