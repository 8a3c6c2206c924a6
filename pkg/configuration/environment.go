package configuration

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/org-import/pkg/logging"
)

const Production = "production"

var singleton = sync.OnceValue(func() *Configuration {
	c := &Configuration{}
	if err := c.load([]string{".env", ".env.local"}); err != nil {
		c.Unload()
		panic(err)
	}
	return c
})

// LoadEnv loads the env files found in the working directory. When none exist there it
// retries relative to the nearest go.mod root. It returns how many files were loaded.
func LoadEnv(envFiles []string) (int, error) {
	existingFiles := existing(envFiles, "")
	if len(existingFiles) == 0 {
		if root, ok := moduleRoot(); ok {
			existingFiles = existing(envFiles, root)
		}
	}
	if len(existingFiles) == 0 {
		return 0, nil
	}
	return len(existingFiles), godotenv.Load(existingFiles...)
}

func existing(files []string, dir string) []string {
	out := make([]string, 0, len(files))
	for _, file := range files {
		path := file
		if dir != "" && !filepath.IsAbs(file) {
			path = filepath.Join(dir, file)
		}
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			out = append(out, path)
		}
	}
	return out
}

func moduleRoot() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

type DatabaseOptions struct {
	Opts     string `env:"-"`
	Name     string `env:"DB_NAME" envDefault:"org_import" validate:"required"`
	Host     string `env:"DB_HOST" envDefault:"localhost" validate:"required"`
	Port     string `env:"DB_PORT" envDefault:"5432" validate:"required,numeric"`
	User     string `env:"DB_USER" envDefault:"postgres" validate:"required"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
	MaxConns int32  `env:"DB_MAX_CONNS" envDefault:"8" validate:"gte=1,lte=256"`
}

func (d *DatabaseOptions) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable pool_max_conns=%d",
		d.Host, d.Port, d.User, d.Name, d.Password, d.MaxConns,
	)
}

type RedisOptions struct {
	Enabled  bool          `env:"REDIS_ENABLED" envDefault:"false"`
	Addr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379" validate:"required_if=Enabled true"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB" envDefault:"0" validate:"gte=0,lte=15"`
	Prefix   string        `env:"REDIS_CODES_PREFIX" envDefault:"orgimport:codes"`
	CacheTTL time.Duration `env:"REDIS_CODES_TTL" envDefault:"5m" validate:"gte=0"`
}

// ImportOptions carries the batch runner and validator knobs. Zero BatchSize picks a size
// from the item count.
type ImportOptions struct {
	BatchSize           int           `env:"IMPORT_BATCH_SIZE" envDefault:"0" validate:"gte=0,lte=10000"`
	RetryAttempts       int           `env:"IMPORT_RETRY_ATTEMPTS" envDefault:"3" validate:"gte=-1,lte=100"`
	RetryDelay          time.Duration `env:"IMPORT_RETRY_DELAY" envDefault:"1s" validate:"lte=1h"`
	DelayBetweenBatches time.Duration `env:"IMPORT_DELAY_BETWEEN_BATCHES" envDefault:"100ms" validate:"lte=1h"`
	Backoff             string        `env:"IMPORT_BACKOFF" envDefault:"fixed" validate:"oneof=fixed exponential"`
	MaxRetryDelay       time.Duration `env:"IMPORT_MAX_RETRY_DELAY" envDefault:"30s" validate:"gte=0"`
	MaxDepth            int           `env:"IMPORT_MAX_DEPTH" envDefault:"20" validate:"gte=1,lte=1000"`
	Concurrency         int           `env:"IMPORT_CONCURRENCY" envDefault:"4" validate:"gte=1,lte=64"`
	ManifestDir         string        `env:"IMPORT_MANIFEST_DIR" envDefault:""`
}

type PrometheusOptions struct {
	Enabled bool   `env:"PROMETHEUS_METRICS_ENABLED" envDefault:"false"`
	Addr    string `env:"PROMETHEUS_METRICS_ADDR" envDefault:"localhost:9102" validate:"required_if=Enabled true"`
	Path    string `env:"PROMETHEUS_METRICS_PATH" envDefault:"/metrics" validate:"startswith=/"`
}

type OpenTelemetryOptions struct {
	Enabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	TempoURL    string `env:"OTEL_TEMPO_URL" envDefault:"localhost:4318" validate:"required_if=Enabled true"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"org-import"`
}

type Configuration struct {
	Database      DatabaseOptions
	Redis         RedisOptions
	Import        ImportOptions
	Prometheus    PrometheusOptions
	OpenTelemetry OpenTelemetryOptions

	GoAppEnvironment string `env:"GO_APP_ENV" envDefault:"development"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"error" validate:"oneof=silent error warn info debug"`
	LogPath          string `env:"LOG_PATH" envDefault:"./logs/org-import.log"`

	logFile io.Closer
	logger  *logrus.Logger
}

var validate = validator.New()

// Load builds a fresh configuration from the given env files and the process environment.
// Use returns the process-wide instance instead.
func Load(envFiles ...string) (*Configuration, error) {
	c := &Configuration{}
	if err := c.load(envFiles); err != nil {
		c.Unload()
		return nil, err
	}
	return c, nil
}

func Use() *Configuration {
	return singleton()
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch c.LogLevel {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.ErrorLevel
	}
}

func (c *Configuration) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	return nil
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 && len(envFiles) > 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}
	if err := env.Parse(c); err != nil {
		return err
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.Import.Backoff = strings.ToLower(strings.TrimSpace(c.Import.Backoff))
	if err := c.Validate(); err != nil {
		return err
	}

	closer, logger, err := logging.FileLogger(c.LogrusLogLevel(), c.LogPath)
	if err != nil {
		return err
	}
	c.logFile = closer
	c.logger = logger

	c.Database.Opts = c.Database.ConnectionString()
	return nil
}

// Unload releases the log file.
func (c *Configuration) Unload() {
	if c.logFile != nil {
		if err := c.logFile.Close(); err != nil {
			log.Printf("Failed to close log file: %v", err)
		}
	}
}
