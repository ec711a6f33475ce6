package config

import (
	"math"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Blockchain BlockchainConfig
	Gateway    GatewayConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port    string
	Env     string
	BaseURL string // absolute URL used for canonical /gateway/<id> endpoints
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// URL returns the database connection URL
func (c DatabaseConfig) URL() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + strconv.Itoa(c.Port) + "/" + c.DBName + "?sslmode=" + c.SSLMode + "&prepare_threshold=0"
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL      string
	Password string
}

// JWTConfig holds JWT configuration for provider sessions
type JWTConfig struct {
	Secret       string
	AccessExpiry time.Duration
}

// BlockchainConfig holds chain RPC and contract wiring. All four contract
// addresses must point at deployed contracts; main verifies code presence
// at startup and treats mismatches as fatal.
type BlockchainConfig struct {
	RPCURL                  string
	ChainID                 int64
	RelayerPrivateKey       string
	PaymentProcessorAddress string
	EscrowAddress           string
	ServiceRegistryAddress  string
	TokenAddress            string
}

// GatewayConfig holds payment gateway behavior knobs
type GatewayConfig struct {
	// PlatformFeePercent mirrors Escrow.platformFeePercent for off-chain
	// revenue reporting. The on-chain value is authoritative at settlement.
	PlatformFeePercent   float64
	OptimisticSettlement bool
	ConfirmationTimeout  time.Duration
	UpstreamTimeout      time.Duration
	// MaxInFlightPerPayer bounds concurrent settlements per from address.
	MaxInFlightPerPayer int
	// APIKey authenticates external services on the /verify-payment
	// delegation endpoint. Held only as a bcrypt hash after startup.
	APIKey string
}

// FeeBasisPoints converts the configured fee fraction to basis points for
// integer ledger math.
func (c GatewayConfig) FeeBasisPoints() int64 {
	return int64(math.Round(c.PlatformFeePercent * 10000))
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    getEnv("SERVER_PORT", "8080"),
			Env:     getEnv("SERVER_ENV", "development"),
			BaseURL: getEnv("BASE_URL", "http://localhost:8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "x402market"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		JWT: JWTConfig{
			Secret:       getEnv("JWT_SECRET", "change-this-in-production"),
			AccessExpiry: getEnvAsDuration("JWT_ACCESS_EXPIRY", 24*time.Hour),
		},
		Blockchain: BlockchainConfig{
			RPCURL:                  getEnv("RPC_URL", "http://localhost:8545"),
			ChainID:                 int64(getEnvAsInt("CHAIN_ID", 71)),
			RelayerPrivateKey:       getEnv("RELAYER_PRIVATE_KEY", ""),
			PaymentProcessorAddress: getEnv("PAYMENT_PROCESSOR_ADDRESS", ""),
			EscrowAddress:           getEnv("ESCROW_ADDRESS", ""),
			ServiceRegistryAddress:  getEnv("SERVICE_REGISTRY_ADDRESS", ""),
			TokenAddress:            getEnv("TOKEN_ADDRESS", ""),
		},
		Gateway: GatewayConfig{
			PlatformFeePercent:   getEnvAsFloat("PLATFORM_FEE_PERCENT", 0.05),
			OptimisticSettlement: getEnvAsBool("OPTIMISTIC_SETTLEMENT", false),
			ConfirmationTimeout:  getEnvAsDuration("CONFIRMATION_TIMEOUT", 30*time.Second),
			UpstreamTimeout:      getEnvAsDuration("UPSTREAM_TIMEOUT", 20*time.Second),
			MaxInFlightPerPayer:  getEnvAsInt("MAX_INFLIGHT_PER_PAYER", 4),
			APIKey:               getEnv("GATEWAY_API_KEY", ""),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
