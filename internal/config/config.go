// internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Wallet link backends.
const (
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Postgres holds the connection settings, read from the same variables the
// database tooling uses.
type Postgres struct {
	User     string
	Password string
	Host     string
	Port     string
	Database string
}

// URL returns the pgx connection string.
func (p Postgres) URL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   p.Host + ":" + p.Port,
		Path:   p.Database,
	}
	return u.String()
}

// Config is the service configuration.
type Config struct {
	Port     string
	LogLevel string

	RPCURL          string
	ContractAddress common.Address
	// ChainID is fetched from the node when zero.
	ChainID int64
	// ServerPrivateKey is optional; without it start, declare and cancel are unavailable.
	ServerPrivateKey string

	LinkDomain       string
	WalletStore      string
	WalletLinksPath  string
	NonceTTL         time.Duration
	NonceMaxFailures int

	RedisAddr string
	RedisDB   int
	Postgres  Postgres

	TokenExpireTime string
	// AuthPrivateKeyPath and AuthPublicKeyPath hold raw ed25519 keys. When
	// unset a key pair is generated at startup.
	AuthPrivateKeyPath string
	AuthPublicKeyPath  string

	// EventLookback is how many blocks below the head a lobby event stream starts.
	EventLookback uint64

	LobbyIndexInterval time.Duration
	LobbyIndexTTL      time.Duration
}

// SetDefaults registers defaults and binds environment variables on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("RPC_URL", "http://localhost:8545")
	v.SetDefault("CHAIN_ID", 0)
	v.SetDefault("LINK_DOMAIN", "localhost")
	v.SetDefault("WALLET_STORE", StoreFile)
	v.SetDefault("WALLET_LINKS_PATH", "data/wallet-links.json")
	v.SetDefault("NONCE_TTL", "10m")
	v.SetDefault("NONCE_MAX_FAILURES", 5)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("PG_HOST", "localhost")
	v.SetDefault("PG_PORT", "5432")
	v.SetDefault("TOKEN_EXPIRE_TIME", "never")
	v.SetDefault("EVENT_LOOKBACK_BLOCKS", 5000)
	v.SetDefault("LOBBY_INDEX_INTERVAL", "15s")
	v.SetDefault("LOBBY_INDEX_TTL", "2m")

	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
}

// Load reads and validates the configuration from v.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Port:             v.GetString("PORT"),
		LogLevel:         v.GetString("LOG_LEVEL"),
		RPCURL:           v.GetString("RPC_URL"),
		ChainID:          v.GetInt64("CHAIN_ID"),
		ServerPrivateKey: v.GetString("SERVER_PRIVATE_KEY"),
		LinkDomain:       v.GetString("LINK_DOMAIN"),
		WalletStore:      strings.ToLower(v.GetString("WALLET_STORE")),
		WalletLinksPath:  v.GetString("WALLET_LINKS_PATH"),
		NonceTTL:         v.GetDuration("NONCE_TTL"),
		NonceMaxFailures: v.GetInt("NONCE_MAX_FAILURES"),
		RedisAddr:        v.GetString("REDIS_ADDR"),
		RedisDB:          v.GetInt("REDIS_DB"),
		Postgres: Postgres{
			User:     v.GetString("POSTGRES_USER"),
			Password: v.GetString("POSTGRES_PASSWORD"),
			Host:     v.GetString("PG_HOST"),
			Port:     v.GetString("PG_PORT"),
			Database: v.GetString("PG_DATABASE"),
		},
		TokenExpireTime:    v.GetString("TOKEN_EXPIRE_TIME"),
		AuthPrivateKeyPath: v.GetString("AUTH_PRIVATE_KEY_PATH"),
		AuthPublicKeyPath:  v.GetString("AUTH_PUBLIC_KEY_PATH"),
		EventLookback:      v.GetUint64("EVENT_LOOKBACK_BLOCKS"),
		LobbyIndexInterval: v.GetDuration("LOBBY_INDEX_INTERVAL"),
		LobbyIndexTTL:      v.GetDuration("LOBBY_INDEX_TTL"),
	}

	addr := v.GetString("CONTRACT_ADDRESS")
	if !common.IsHexAddress(addr) {
		return Config{}, fmt.Errorf("CONTRACT_ADDRESS %q is not an address", addr)
	}
	cfg.ContractAddress = common.HexToAddress(addr)

	if cfg.RPCURL == "" {
		return Config{}, fmt.Errorf("RPC_URL is required")
	}
	switch cfg.WalletStore {
	case StoreFile, StorePostgres, StoreRedis:
	default:
		return Config{}, fmt.Errorf("WALLET_STORE %q must be one of file, postgres, redis", cfg.WalletStore)
	}
	if cfg.WalletStore == StoreFile && cfg.WalletLinksPath == "" {
		return Config{}, fmt.Errorf("WALLET_LINKS_PATH is required for the file store")
	}
	if (cfg.AuthPrivateKeyPath == "") != (cfg.AuthPublicKeyPath == "") {
		return Config{}, fmt.Errorf("AUTH_PRIVATE_KEY_PATH and AUTH_PUBLIC_KEY_PATH must be set together")
	}
	if cfg.NonceTTL <= 0 {
		return Config{}, fmt.Errorf("NONCE_TTL must be positive")
	}
	if cfg.LobbyIndexInterval <= 0 {
		return Config{}, fmt.Errorf("LOBBY_INDEX_INTERVAL must be positive")
	}
	return cfg, nil
}
