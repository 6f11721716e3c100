package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/pulsecache/pulsecache/internal/source"
	"github.com/pulsecache/pulsecache/internal/window"
)

// Configuration represents the complete application configuration.
type Configuration struct {
	Server   ServerConfig   `yaml:"server"`
	Cache    CacheConfig    `yaml:"cache"`
	Window   WindowConfig   `yaml:"window"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Brands   []BrandConfig  `yaml:"brands"`
}

// ServerConfig represents the HTTP trigger surface settings.
type ServerConfig struct {
	Port         int    `yaml:"port"`
	TriggerToken string `yaml:"trigger_token"`
	LogLevel     string `yaml:"log_level"`
}

// CacheConfig represents cache backend settings.
type CacheConfig struct {
	RedisURL    string        `yaml:"redis_url"`
	RESTURL     string        `yaml:"rest_url"`
	RESTToken   string        `yaml:"rest_token"`
	TTL         time.Duration `yaml:"ttl"`
	PreserveTTL time.Duration `yaml:"preserve_ttl"`
	Timeout     time.Duration `yaml:"timeout"`
}

// WindowConfig represents rolling-window settings.
type WindowConfig struct {
	Size       int           `yaml:"size"`
	UTCOffset  time.Duration `yaml:"utc_offset"`
	Backfill   bool          `yaml:"backfill"`
	TargetDate string        `yaml:"target_date"`
}

// PipelineConfig represents orchestration settings.
type PipelineConfig struct {
	// Workers bounds simultaneous fetch tasks. The limit protects the
	// brands' databases, not local CPU, so it is independent of core count.
	Workers int  `yaml:"workers"`
	DryRun  bool `yaml:"dry_run"`
}

// BrandConfig represents one brand's connection info in the YAML file.
// Brands may also be resolved entirely from environment variables.
type BrandConfig struct {
	Name         string `yaml:"name"`
	DSN          string `yaml:"dsn"`
	MetricsQuery string `yaml:"metrics_query"`
}

// NewDefault returns a configuration with sensible defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Server: ServerConfig{
			Port:     8080,
			LogLevel: "INFO",
		},
		Cache: CacheConfig{
			TTL:         24 * time.Hour,
			PreserveTTL: time.Hour,
			Timeout:     10 * time.Second,
		},
		Window: WindowConfig{
			Size:      window.DefaultSize,
			UTCOffset: window.DefaultOffset,
		},
		Pipeline: PipelineConfig{
			Workers: 4,
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv overlays configuration from environment variables. The names
// follow the deployment's existing .env surface.
func (c *Configuration) LoadFromEnv() {
	if val := os.Getenv("PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Server.Port = port
		}
	}
	if val := os.Getenv("TRIGGER_TOKEN"); val != "" {
		c.Server.TriggerToken = val
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Server.LogLevel = val
	}

	if val := os.Getenv("REDIS_URL"); val != "" {
		c.Cache.RedisURL = val
	}
	if val := os.Getenv("REDIS_REST_URL"); val != "" {
		c.Cache.RESTURL = val
	}
	if val := os.Getenv("REDIS_REST_TOKEN"); val != "" {
		c.Cache.RESTToken = val
	}
	if val := firstEnv("CACHE_TTL_SECONDS", "METRICS_TTL_SECONDS"); val != "" {
		if secs, err := strconv.Atoi(val); err == nil {
			c.Cache.TTL = time.Duration(secs) * time.Second
		}
	}
	if val := firstEnv("CACHE_PRESERVE_OLD_SECONDS", "CACHE_PRESERVE_OLD"); val != "" {
		if secs, err := strconv.Atoi(val); err == nil {
			c.Cache.PreserveTTL = time.Duration(secs) * time.Second
		}
	}

	if val := os.Getenv("WINDOW_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			c.Window.Size = size
		}
	}
	if val := os.Getenv("BACKFILL"); val != "" {
		c.Window.Backfill = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("TARGET_DATE"); val != "" {
		c.Window.TargetDate = val
	}

	if val := os.Getenv("WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil {
			c.Pipeline.Workers = workers
		}
	}
	if val := os.Getenv("DRY_RUN"); val != "" {
		c.Pipeline.DryRun = strings.ToLower(val) == "true"
	}
}

// Validate validates the configuration.
func (c *Configuration) Validate() error {
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("workers must be greater than 0")
	}
	if c.Window.Size <= 0 {
		return fmt.Errorf("window size must be greater than 0")
	}
	if c.Cache.RedisURL == "" && (c.Cache.RESTURL == "" || c.Cache.RESTToken == "") {
		return fmt.Errorf("no cache backend configured: set redis_url or rest_url + rest_token")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.ToUpper(c.Server.LogLevel) == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Server.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}

// ResolveRoster builds the immutable brand -> connection target mapping.
// Resolution happens exactly once, at startup; the pipeline never consults
// the environment afterwards.
//
// Precedence: explicit YAML brand entries, then the BRANDS list with
// per-brand lookups, then brands derived from indexed env vars
// (BRAND_TAG_<i> / SHOP_NAME_<i> paired with MYSQL_CONNECT_<i>).
func (c *Configuration) ResolveRoster() map[string]source.Target {
	roster := make(map[string]source.Target)

	for _, b := range c.Brands {
		if b.Name == "" {
			continue
		}
		roster[b.Name] = source.Target{DSN: b.DSN, CustomQuery: b.MetricsQuery}
	}
	if len(roster) > 0 {
		return roster
	}

	indexed := indexedBrands()

	var names []string
	if list := os.Getenv("BRANDS"); list != "" {
		for _, name := range strings.Split(list, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	} else {
		for name := range indexed {
			names = append(names, name)
		}
	}

	for _, name := range names {
		roster[name] = source.Target{
			DSN:         dsnForBrand(name, indexed),
			CustomQuery: queryForBrand(name),
		}
	}
	return roster
}

// indexedBrands maps brand tags to their env index, scanning up to
// TOTAL_CONFIG_COUNT slots.
func indexedBrands() map[string]int {
	count, _ := strconv.Atoi(os.Getenv("TOTAL_CONFIG_COUNT"))
	mapping := make(map[string]int)
	for i := 0; i < count; i++ {
		tag := firstEnv(
			fmt.Sprintf("BRAND_TAG_%d", i),
			fmt.Sprintf("X_BRAND_NAME_%d", i),
			fmt.Sprintf("SHOP_NAME_%d", i),
		)
		if tag != "" {
			mapping[tag] = i
		}
	}
	return mapping
}

func dsnForBrand(brand string, indexed map[string]int) string {
	if i, ok := indexed[brand]; ok {
		if val := os.Getenv(fmt.Sprintf("MYSQL_CONNECT_%d", i)); val != "" {
			return val
		}
	}

	upper := strings.ToUpper(brand)
	return firstEnv(
		upper+"_DATABASE_URL",
		"BRAND_"+upper+"_DATABASE_URL",
		brand+"_DATABASE_URL",
	)
}

func queryForBrand(brand string) string {
	upper := strings.ToUpper(brand)
	return firstEnv(upper+"_METRICS_QUERY", "BRAND_"+upper+"_METRICS_QUERY")
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if val := os.Getenv(name); val != "" {
			return val
		}
	}
	return ""
}
