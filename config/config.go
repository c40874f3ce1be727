package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultSearchTerms is used when no monitor config file overrides it.
var DefaultSearchTerms = []string{
	"pokemon etb",
	"pokemon booster box",
	"pokemon collection",
	"pokemon 151",
	"pokemon japanese booster box",
	"pokemon graded card",
	"charizard psa",
}

type Config struct {
	Browser    BrowserConfig
	Classifier ClassifierConfig
	Sheets     SheetsConfig
	S3         S3Config
	Scheduler  SchedulerConfig
	Monitor    MonitorConfig
	PriceGuide PriceGuideConfig
	Proxy      ProxyConfig

	PostgresURL string
	DBPath      string
	HTTPAddr    string
	LogLevel    string
}

type BrowserConfig struct {
	Headless   bool   `yaml:"headless"`
	ProfileDir string `yaml:"profile_dir"`
	DebugPort  int    `yaml:"debug_port"` // attach to a running Chrome instead of launching
	MinDelayMS int    `yaml:"min_delay_ms"`
	MaxDelayMS int    `yaml:"max_delay_ms"`
}

type ClassifierConfig struct {
	URL     string        // chat-completions compatible endpoint
	APIKey  string
	Model   string
	Timeout time.Duration
}

type SheetsConfig struct {
	AppendURL  string // webhook that appends one row per POST
	BacklogURL string // spreadsheet URL shown in the UI
	ServiceKey string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type SchedulerConfig struct {
	Cron     string
	Interval time.Duration
}

// MonitorConfig is loaded from config/monitor.yaml when present.
type MonitorConfig struct {
	SearchTerms []string      `yaml:"search_terms"`
	Browser     BrowserConfig `yaml:"browser"`
}

type PriceGuideConfig struct {
	SearchURL string // %s is replaced with the url-escaped query
}

type ProxyConfig struct {
	URL string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Browser: BrowserConfig{
			Headless:   os.Getenv("BROWSER_HEADLESS") == "true",
			ProfileDir: getEnv("BROWSER_PROFILE_DIR", "browser_data"),
			DebugPort:  getEnvInt("BROWSER_DEBUG_PORT", 0),
			MinDelayMS: getEnvInt("BROWSER_MIN_DELAY_MS", 800),
			MaxDelayMS: getEnvInt("BROWSER_MAX_DELAY_MS", 2500),
		},
		Classifier: ClassifierConfig{
			URL:     getEnv("CLASSIFIER_URL", "https://api.openai.com/v1/chat/completions"),
			APIKey:  os.Getenv("CLASSIFIER_API_KEY"),
			Model:   getEnv("CLASSIFIER_MODEL", "gpt-4o-mini"),
			Timeout: getEnvDuration("CLASSIFIER_TIMEOUT", 45*time.Second),
		},
		Sheets: SheetsConfig{
			AppendURL:  os.Getenv("SHEETS_APPEND_URL"),
			BacklogURL: os.Getenv("SHEETS_BACKLOG_URL"),
			ServiceKey: os.Getenv("SHEETS_SERVICE_KEY"),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("MONITOR_CRON"),
		},
		PriceGuide: PriceGuideConfig{
			SearchURL: os.Getenv("PRICE_GUIDE_SEARCH_URL"),
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		PostgresURL: os.Getenv("DATABASE_URL"),
		DBPath:      getEnv("DB_PATH", "monitor.db"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}

	if interval := os.Getenv("MONITOR_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Scheduler.Interval = d
		}
	}

	cfg.Monitor.SearchTerms = append([]string(nil), DefaultSearchTerms...)

	if err := cfg.loadMonitorConfig("config/monitor.yaml"); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadMonitorConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var mc MonitorConfig
	if err := yaml.Unmarshal(data, &mc); err != nil {
		return err
	}

	if len(mc.SearchTerms) > 0 {
		c.Monitor.SearchTerms = mc.SearchTerms
	}
	if mc.Browser.ProfileDir != "" {
		c.Browser.ProfileDir = mc.Browser.ProfileDir
	}
	if mc.Browser.MinDelayMS > 0 {
		c.Browser.MinDelayMS = mc.Browser.MinDelayMS
	}
	if mc.Browser.MaxDelayMS > 0 {
		c.Browser.MaxDelayMS = mc.Browser.MaxDelayMS
	}
	if mc.Browser.DebugPort > 0 {
		c.Browser.DebugPort = mc.Browser.DebugPort
	}
	if mc.Browser.Headless {
		c.Browser.Headless = true
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
