package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Store    StoreConfig
	Alerts   AlertsConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	SMTP     SMTPConfig
	Logger   LoggerConfig
	Metrics  MetricsConfig
}

type StoreConfig struct {
	DataDir       string
	WeatherFile   string
	PlantsFile    string
	WateringFile  string
	WaterFile     string
	WeatherLayout string
	DateLayout    string
}

// Path joins a table file name onto the data directory
func (s StoreConfig) Path(file string) string {
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(s.DataDir, file)
}

type AlertsConfig struct {
	DailyQuota        float64
	WarningRatio      float64
	Scorer            string
	ZThreshold        float64
	RobustThreshold   float64
	ContaminationRate float64
	ScanInterval      time.Duration
	Households        []string
	AnomalyTables     []string
	StateTTL          time.Duration
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Enabled           bool
	Brokers           []string
	TopicObservations string
	TopicAlerts       string
	NumPartitions     int
	GroupDBWriter     string
	GroupNotification string
	BatchSize         int
	BatchTimeout      time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

type LoggerConfig struct {
	Level  string
	Format string
}

type MetricsConfig struct {
	Addr string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Store: StoreConfig{
			DataDir:       getEnv("DATA_DIR", "data"),
			WeatherFile:   getEnv("WEATHER_FILE", "weather_2025.csv"),
			PlantsFile:    getEnv("PLANTS_FILE", "plants.csv"),
			WateringFile:  getEnv("WATERING_FILE", "watering_log.csv"),
			WaterFile:     getEnv("WATER_FILE", "water_usage.csv"),
			WeatherLayout: getEnv("WEATHER_DATE_LAYOUT", "01-02-2006"),
			DateLayout:    getEnv("DATE_LAYOUT", "2006-01-02"),
		},
		Alerts: AlertsConfig{
			DailyQuota:        getEnvAsFloat("ALERT_DAILY_QUOTA", 1500),
			WarningRatio:      getEnvAsFloat("ALERT_WARNING_RATIO", 0.9),
			Scorer:            getEnv("ALERT_SCORER", "contamination"),
			ZThreshold:        getEnvAsFloat("ALERT_Z_THRESHOLD", 3),
			RobustThreshold:   getEnvAsFloat("ALERT_ROBUST_THRESHOLD", 3.5),
			ContaminationRate: getEnvAsFloat("ALERT_CONTAMINATION_RATE", 0.1),
			ScanInterval:      getEnvAsDuration("ALERT_SCAN_INTERVAL", time.Minute),
			Households:        getEnvAsList("ALERT_HOUSEHOLDS", "home"),
			AnomalyTables:     getEnvAsList("ALERT_ANOMALY_TABLES", "water"),
			StateTTL:          getEnvAsDuration("ALERT_STATE_TTL", 7*24*time.Hour),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvAsBool("DB_ENABLED", false),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "tracker_user"),
			Password: getEnv("DB_PASSWORD", "tracker_pass"),
			DBName:   getEnv("DB_NAME", "tracker_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Enabled:           getEnvAsBool("KAFKA_ENABLED", false),
			Brokers:           getEnvAsList("KAFKA_BROKERS", "localhost:9092"),
			TopicObservations: getEnv("KAFKA_TOPIC_OBSERVATIONS", "weather.observations"),
			TopicAlerts:       getEnv("KAFKA_TOPIC_ALERTS", "weather.alerts"),
			NumPartitions:     getEnvAsInt("KAFKA_NUM_PARTITIONS", 4),
			GroupDBWriter:     getEnv("KAFKA_GROUP_DBWRITER", "dbwriter-group"),
			GroupNotification: getEnv("KAFKA_GROUP_NOTIFICATION", "notification-group"),
			BatchSize:         getEnvAsInt("KAFKA_BATCH_SIZE", 100),
			BatchTimeout:      getEnvAsDuration("KAFKA_BATCH_TIMEOUT", 5*time.Second),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "waterguard@example.com"),
			To:       getEnv("SMTP_TO", "admin@example.com"),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ":9090"),
		},
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.Alerts.DailyQuota <= 0 {
		return fmt.Errorf("ALERT_DAILY_QUOTA must be positive, got %v", c.Alerts.DailyQuota)
	}
	if c.Alerts.WarningRatio <= 0 || c.Alerts.WarningRatio > 1 {
		return fmt.Errorf("ALERT_WARNING_RATIO must be in (0, 1], got %v", c.Alerts.WarningRatio)
	}
	if c.Alerts.ScanInterval <= 0 {
		return fmt.Errorf("ALERT_SCAN_INTERVAL must be positive, got %v", c.Alerts.ScanInterval)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
