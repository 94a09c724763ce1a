package models

// Config holds all configuration for the dispatch process
type Config struct {
	App      AppConfig
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NSQ      NSQConfig
	JWT      JWTConfig
	Backend  BackendConfig
	Maps     MapsConfig
	Logger   LoggerConfig
}

// AppConfig represents application configuration
type AppConfig struct {
	Name        string `json:"name"`
	Environment string `json:"environment"`
	Debug       bool   `json:"debug"`
	Version     string `json:"version"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	ReadTimeout     int    `json:"read_timeout"`
	WriteTimeout    int    `json:"write_timeout"`
	ShutdownTimeout int    `json:"shutdown_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Database  string `json:"database"`
	SSLMode   string `json:"ssl_mode"`
	MaxConns  int    `json:"max_conns"`
	IdleConns int    `json:"idle_conns"`
}

// RedisConfig represents redis configuration
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// NSQConfig represents NSQ producer configuration
type NSQConfig struct {
	Address string `json:"address"`
	Enabled bool   `json:"enabled"`
}

// JWTConfig represents JWT session token configuration
type JWTConfig struct {
	Secret     string `json:"secret"`
	Expiration int    `json:"expiration"` // hours
	Issuer     string `json:"issuer"`
}

// BackendConfig represents the identity/account service endpoint
type BackendConfig struct {
	BaseURL string `json:"base_url"`
	Timeout int    `json:"timeout"` // seconds
}

// MapsConfig represents the Google Maps distance service configuration
type MapsConfig struct {
	APIKey  string `json:"api_key"`
	Enabled bool   `json:"enabled"`
}

// LoggerConfig represents logger configuration
type LoggerConfig struct {
	Level    string `json:"level"`
	FilePath string `json:"file_path"`
}
