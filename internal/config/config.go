package config

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrConfiguration marks an invalid or unreadable configuration. It is fatal
// before any processing starts.
var ErrConfiguration = eris.New("invalid configuration")

// Config holds the full application configuration.
type Config struct {
	Source      SourceConfig      `yaml:"source" mapstructure:"source"`
	Registry    RegistryConfig    `yaml:"registry" mapstructure:"registry"`
	Storage     StorageConfig     `yaml:"storage" mapstructure:"storage"`
	Extract     ExtractConfig     `yaml:"extract" mapstructure:"extract"`
	Consolidate ConsolidateConfig `yaml:"consolidate" mapstructure:"consolidate"`
	Pipeline    PipelineConfig    `yaml:"pipeline" mapstructure:"pipeline"`
	Output      OutputConfig      `yaml:"output" mapstructure:"output"`
	RunLog      RunLogConfig      `yaml:"runlog" mapstructure:"runlog"`
	Database    DatabaseConfig    `yaml:"database" mapstructure:"database"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// SourceConfig locates the quarterly archives.
type SourceConfig struct {
	// IndexURL is a directory listing URL; {year} and {quarter} are substituted.
	IndexURL string `yaml:"index_url" mapstructure:"index_url" validate:"required_without=ArchiveDir"`
	// Keywords filter archive names (case-insensitive). Empty accepts every archive of the quarter.
	Keywords []string `yaml:"keywords" mapstructure:"keywords"`
	// ArchiveDir reads pre-downloaded archives instead of the network.
	ArchiveDir  string  `yaml:"archive_dir" mapstructure:"archive_dir"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"min=1"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries" validate:"min=1,max=10"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec" validate:"gt=0"`
}

// RegistryConfig locates the operator registry file.
type RegistryConfig struct {
	URL  string `yaml:"url" mapstructure:"url"`
	Path string `yaml:"path" mapstructure:"path"`
}

// StorageConfig sets the working directories.
type StorageConfig struct {
	WorkDir   string `yaml:"work_dir" mapstructure:"work_dir" validate:"required"`
	OutputDir string `yaml:"output_dir" mapstructure:"output_dir" validate:"required"`
	TempDir   string `yaml:"temp_dir" mapstructure:"temp_dir" validate:"required"`
}

// ExtractConfig bounds archive extraction.
type ExtractConfig struct {
	// MaxBytes caps the bytes extracted per archive; negative disables the cap.
	MaxBytes int64 `yaml:"max_bytes" mapstructure:"max_bytes"`
}

// ConsolidateConfig tunes consolidated table I/O.
type ConsolidateConfig struct {
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"min=1"`
	ChunkSize int `yaml:"chunk_size" mapstructure:"chunk_size" validate:"min=1"`
}

// PipelineConfig configures the run.
type PipelineConfig struct {
	Workers  int `yaml:"workers" mapstructure:"workers" validate:"min=1,max=64"`
	Quarters int `yaml:"quarters" mapstructure:"quarters" validate:"min=1,max=40"`
}

// OutputConfig configures delivery.
type OutputConfig struct {
	// PublishURL is a gocloud bucket URL (file://, s3://, gs://). Empty disables publishing.
	PublishURL string `yaml:"publish_url" mapstructure:"publish_url"`
}

// RunLogConfig locates the SQLite run log.
type RunLogConfig struct {
	Path string `yaml:"path" mapstructure:"path" validate:"required"`
}

// DatabaseConfig configures the optional Postgres load.
type DatabaseConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// Load reads config.yaml from the working directory (if present) and the
// environment, then validates the result.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. A named file that does not
// exist is an error; an empty path falls back to ./config.yaml.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("ANS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("source.index_url", "https://dadosabertos.ans.gov.br/FTP/PDA/demonstracoes_contabeis/{year}/")
	v.SetDefault("source.keywords", []string{})
	v.SetDefault("source.archive_dir", "")
	v.SetDefault("source.user_agent", "ans-consolidator/1.0")
	v.SetDefault("source.timeout_secs", 60)
	v.SetDefault("source.max_retries", 3)
	v.SetDefault("source.rate_per_sec", 2.0)
	v.SetDefault("registry.url", "https://dadosabertos.ans.gov.br/FTP/PDA/operadoras_de_plano_de_saude_ativas/")
	v.SetDefault("registry.path", "")
	v.SetDefault("storage.work_dir", "data/work")
	v.SetDefault("storage.output_dir", "data/output")
	v.SetDefault("storage.temp_dir", "data/tmp")
	v.SetDefault("extract.max_bytes", int64(2<<30))
	v.SetDefault("consolidate.batch_size", 10_000)
	v.SetDefault("consolidate.chunk_size", 50_000)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.quarters", 3)
	v.SetDefault("output.publish_url", "")
	v.SetDefault("runlog.path", "data/runs.db")
	v.SetDefault("database.url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrapf(ErrConfiguration, "config: read file: %v", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrapf(ErrConfiguration, "config: unmarshal: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their config key rather than the Go name.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints. Failures wrap ErrConfiguration.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return eris.Wrapf(ErrConfiguration, "config: validate: %v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		key := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, key+" failed "+fe.Tag()+"="+fe.Param())
		} else {
			msgs = append(msgs, key+" failed "+fe.Tag())
		}
	}
	return eris.Wrapf(ErrConfiguration, "config: %s", strings.Join(msgs, "; "))
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
