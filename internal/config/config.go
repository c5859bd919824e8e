package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"CalibrationMonitorAPI/internal/logger"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	MQTT       MQTTConfig
	Security   SecurityConfig
	Logging    LoggingConfig
	Forecast   ForecastConfig
	Thresholds ThresholdsFile
}

type ServerConfig struct {
	Host            string
	Port            int
	Environment     string
	ShutdownTimeout time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxHeaderBytes  int
}

type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	SQLitePath      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type MQTTConfig struct {
	Enabled          bool
	Broker           string
	Port             int
	ClientID         string
	Username         string
	Password         string
	MeasurementTopic string
	NotifyTopic      string
	EventTopic       string
	QoS              byte
	RetainMessages   bool
	KeepAlive        time.Duration
	ConnectTimeout   time.Duration
	AutoReconnect    bool
}

type SecurityConfig struct {
	CORSAllowedOrigins []string
	CORSAllowedMethods []string
	RateLimitPerMinute int
	EnableRateLimit    bool
}

type LoggingConfig struct {
	Level      logger.Level
	Mode       logger.Mode
	FilePath   string
	UseColors  bool
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type ForecastConfig struct {
	Model          string
	MinimumPoints  int
	HorizonDays    int
	FitTimeout     time.Duration
	BatchWorkers   int
	BatchInterval  time.Duration
	InlineReducer  string
	BatchReducer   string
	InlineCacheTTL time.Duration
	JobRetention   time.Duration
	AROrder        int
	Differencing   int
	SeasonLength   int
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	if err := validateRequired(); err != nil {
		return nil, err
	}

	thresholds, err := LoadThresholds(getEnv("THRESHOLDS_FILE", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:     loadServerConfig(),
		Database:   loadDatabaseConfig(),
		MQTT:       loadMQTTConfig(),
		Security:   loadSecurityConfig(),
		Logging:    loadLoggingConfig(),
		Forecast:   loadForecastConfig(),
		Thresholds: *thresholds,
	}

	return cfg, nil
}

// requiredEnvVars depends on the selected driver; sqlite needs nothing.
func requiredEnvVars() []string {
	if getEnv("DB_DRIVER", DriverPostgres) != DriverPostgres {
		return nil
	}
	return []string{"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME"}
}

func validateRequired() error {
	var missing []string

	for _, key := range requiredEnvVars() {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	return nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("SERVER_HOST", "0.0.0.0"),
		Port:            getEnvAsInt("SERVER_PORT", 8080),
		Environment:     getEnv("ENVIRONMENT", "development"),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", "15s"),
		ReadTimeout:     getEnvAsDuration("READ_TIMEOUT", "10s"),
		WriteTimeout:    getEnvAsDuration("WRITE_TIMEOUT", "60s"),
		MaxHeaderBytes:  getEnvAsInt("MAX_HEADER_BYTES", 1048576),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          getEnv("DB_DRIVER", DriverPostgres),
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "qa_admin"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "calibration_monitor"),
		SSLMode:         getEnv("DB_SSL_MODE", "disable"),
		SQLitePath:      getEnv("DB_SQLITE_PATH", "data/calibration.db"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", "5m"),
		ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", "5m"),
	}
}

func loadMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Enabled:          getEnvAsBool("MQTT_ENABLED", true),
		Broker:           getEnv("MQTT_BROKER", "localhost"),
		Port:             getEnvAsInt("MQTT_PORT", 1883),
		ClientID:         getEnv("MQTT_CLIENT_ID", "calibration-monitor"),
		Username:         getEnv("MQTT_USERNAME", ""),
		Password:         getEnv("MQTT_PASSWORD", ""),
		MeasurementTopic: getEnv("MQTT_MEASUREMENT_TOPIC", "qa/measurements/+"),
		NotifyTopic:      getEnv("MQTT_NOTIFY_TOPIC", "qa/notifications"),
		EventTopic:       getEnv("MQTT_EVENT_TOPIC", "qa/events"),
		QoS:              byte(getEnvAsInt("MQTT_QOS", 1)),
		RetainMessages:   getEnvAsBool("MQTT_RETAIN", false),
		KeepAlive:        getEnvAsDuration("MQTT_KEEP_ALIVE", "60s"),
		ConnectTimeout:   getEnvAsDuration("MQTT_CONNECT_TIMEOUT", "10s"),
		AutoReconnect:    getEnvAsBool("MQTT_AUTO_RECONNECT", true),
	}
}

func loadSecurityConfig() SecurityConfig {
	origins := getEnv("CORS_ALLOWED_ORIGINS", "*")
	methods := getEnv("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS")

	return SecurityConfig{
		CORSAllowedOrigins: strings.Split(origins, ","),
		CORSAllowedMethods: strings.Split(methods, ","),
		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 100),
		EnableRateLimit:    getEnvAsBool("ENABLE_RATE_LIMIT", true),
	}
}

func loadLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:      logger.ParseLevel(getEnv("LOG_LEVEL", "info")),
		Mode:       logger.ParseMode(getEnv("LOG_MODE", "normal")),
		FilePath:   getEnv("LOG_FILE_PATH", ""),
		UseColors:  getEnvAsBool("LOG_USE_COLORS", true),
		MaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE_MB", 50),
		MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 5),
		MaxAgeDays: getEnvAsInt("LOG_MAX_AGE_DAYS", 30),
		Compress:   getEnvAsBool("LOG_COMPRESS", true),
	}
}

func loadForecastConfig() ForecastConfig {
	return ForecastConfig{
		Model:          getEnv("FORECAST_MODEL", "arima"),
		MinimumPoints:  getEnvAsInt("FORECAST_MINIMUM_POINTS", 10),
		HorizonDays:    getEnvAsInt("FORECAST_HORIZON_DAYS", 7),
		FitTimeout:     getEnvAsDuration("FORECAST_FIT_TIMEOUT", "30s"),
		BatchWorkers:   getEnvAsInt("FORECAST_BATCH_WORKERS", 4),
		BatchInterval:  getEnvAsDuration("FORECAST_BATCH_INTERVAL", "0s"),
		InlineReducer:  getEnv("FORECAST_INLINE_REDUCER", "last"),
		BatchReducer:   getEnv("FORECAST_BATCH_REDUCER", "mean"),
		InlineCacheTTL: getEnvAsDuration("FORECAST_INLINE_CACHE_TTL", "0s"),
		JobRetention:   getEnvAsDuration("FORECAST_JOB_RETENTION", "1h"),
		AROrder:        getEnvAsInt("FORECAST_AR_ORDER", 2),
		Differencing:   getEnvAsInt("FORECAST_DIFFERENCING", 1),
		SeasonLength:   getEnvAsInt("FORECAST_SEASON_LENGTH", 7),
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

func (c *Config) GetDSN() string {
	if c.Database.Driver == DriverSQLite {
		return c.Database.SQLitePath
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

func (c *Config) GetMQTTBroker() string {
	return c.MQTT.BrokerURL()
}

func (m *MQTTConfig) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", m.Broker, m.Port)
}

func (c *Config) Validate() error {
	var errors []string

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.Password == "" {
			errors = append(errors, "DB_PASSWORD cannot be empty")
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			errors = append(errors, "DB_PORT must be between 1 and 65535")
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			errors = append(errors, "DB_SQLITE_PATH cannot be empty")
		}
	default:
		errors = append(errors, fmt.Sprintf("DB_DRIVER %q is not one of postgres, sqlite", c.Database.Driver))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, "SERVER_PORT must be between 1 and 65535")
	}

	if c.MQTT.Enabled && (c.MQTT.Port < 1 || c.MQTT.Port > 65535) {
		errors = append(errors, "MQTT_PORT must be between 1 and 65535")
	}

	if c.Forecast.MinimumPoints < 2 {
		errors = append(errors, "FORECAST_MINIMUM_POINTS must be at least 2")
	}

	if c.Forecast.HorizonDays < 1 {
		errors = append(errors, "FORECAST_HORIZON_DAYS must be positive")
	}

	if c.Forecast.BatchWorkers < 1 {
		errors = append(errors, "FORECAST_BATCH_WORKERS must be positive")
	}

	for _, r := range []string{c.Forecast.InlineReducer, c.Forecast.BatchReducer} {
		if r != "last" && r != "mean" {
			errors = append(errors, fmt.Sprintf("reducer %q must be last or mean", r))
		}
	}

	if err := c.Thresholds.Validate(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

func (c *Config) Print() {
	fmt.Println("╔══════════════════════════════════════════════════════════╗")
	fmt.Println("║        Calibration Monitor - Configuration               ║")
	fmt.Println("╚══════════════════════════════════════════════════════════╝")
	fmt.Printf("Environment:     %s\n", c.Server.Environment)
	fmt.Printf("Server:          %s:%d\n", c.Server.Host, c.Server.Port)
	if c.Database.Driver == DriverSQLite {
		fmt.Printf("Database:        sqlite %s\n", c.Database.SQLitePath)
	} else {
		fmt.Printf("Database:        %s:%d/%s\n", c.Database.Host, c.Database.Port, c.Database.Database)
	}
	if c.MQTT.Enabled {
		fmt.Printf("MQTT Broker:     %s:%d\n", c.MQTT.Broker, c.MQTT.Port)
	} else {
		fmt.Println("MQTT Broker:     disabled")
	}
	fmt.Printf("Forecast:        %s, min %d points, %d day horizon\n",
		c.Forecast.Model, c.Forecast.MinimumPoints, c.Forecast.HorizonDays)
	fmt.Println("──────────────────────────────────────────────────────────")
}
