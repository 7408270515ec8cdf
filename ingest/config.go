package ingest

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// InputsConfig accepts either a single glob:
//
//	inputs: /data/drop/*.zip
//
// or a list:
//
//	inputs:
//	  - /data/drop/*.zip
//	  - /data/archive/**/*.zip
type InputsConfig []string

func (in *InputsConfig) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case yaml.ScalarNode:
		s := strings.TrimSpace(value.Value)
		if s != "" {
			*in = InputsConfig{s}
		}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		out := make(InputsConfig, 0, len(items))
		for _, it := range items {
			if it = strings.TrimSpace(it); it != "" {
				out = append(out, it)
			}
		}
		*in = out
		return nil
	default:
		return errors.Errorf("inputs: expected string or list, got yaml kind %d", value.Kind)
	}
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

type FileConfig struct {
	Inputs     InputsConfig   `yaml:"inputs"`
	Database   DatabaseConfig `yaml:"database"`
	Dictionary string         `yaml:"dictionary"`

	// Archives that fail are moved here; empty leaves them in place.
	ErrorDir string `yaml:"error_dir"`
	// Completed archives are moved here; empty leaves them in place.
	DoneDir string `yaml:"done_dir"`

	BatchSize        int           `yaml:"batch_size"`
	Workers          int           `yaml:"workers"`
	SkipKnownDevices *bool         `yaml:"skip_known_devices"`
	MaxTextBytes     int64         `yaml:"max_text_bytes"`
	Timeout          time.Duration `yaml:"timeout"`
	Debounce         time.Duration `yaml:"debounce"`

	Log LogConfig `yaml:"log"`
}

const (
	defaultBatchSize    = 100
	defaultMaxTextBytes = 8 << 20
	defaultDebounce     = 2 * time.Second
)

func (c *FileConfig) ApplyDefaults() {
	if strings.TrimSpace(c.Database.Driver) == "" {
		c.Database.Driver = "sqlite"
	}
	if strings.TrimSpace(c.Database.DSN) == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "stealer-ingest.db"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.SkipKnownDevices == nil {
		v := true
		c.SkipKnownDevices = &v
	}
	if c.MaxTextBytes <= 0 {
		c.MaxTextBytes = defaultMaxTextBytes
	}
	if c.Debounce <= 0 {
		c.Debounce = defaultDebounce
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stderr"
	}
}

func LoadConfig(path string) (*FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return &cfg, nil
}
