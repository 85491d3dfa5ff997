package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	NATS          NATSConfig          `yaml:"nats"`
	Repository    RepositoryConfig    `yaml:"repository"`
	Swap          SwapConfig          `yaml:"swap"`
	Queues        []QueueConfig       `yaml:"queues"`
	API           APIConfig           `yaml:"api"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type NATSConfig struct {
	URL             string    `yaml:"url"`
	CredentialsFile string    `yaml:"credentials_file"`
	TLS             TLSConfig `yaml:"tls"`
	ConnectionName  string    `yaml:"connection_name"`
	MaxReconnects   int       `yaml:"max_reconnects"`
	ReconnectWait   Duration  `yaml:"reconnect_wait"`
	BulletinSubject string    `yaml:"bulletin_subject"`
}

type TLSConfig struct {
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type RepositoryConfig struct {
	Path   string `yaml:"path"`
	NoSync bool   `yaml:"no_sync"`
}

type SwapConfig struct {
	Backend string   `yaml:"backend"` // "file" or "s3"
	Dir     string   `yaml:"dir"`
	S3      S3Config `yaml:"s3"`

	// DiscardCorruptSwap controls what happens when a persisted swap
	// batch fails to restore for a reason other than not-found. True
	// drops the location and accepts the data loss; false retains it
	// for retry, stalling swap-in for that queue until an operator
	// purges the file.
	DiscardCorruptSwap bool `yaml:"discard_corrupt_swap"`
}

type S3Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
}

type QueueConfig struct {
	Identifier     string   `yaml:"identifier"`
	InSubject      string   `yaml:"in_subject"`
	OutSubject     string   `yaml:"out_subject"`
	MaxObjectCount uint64   `yaml:"max_object_count"`
	MaxByteCount   string   `yaml:"max_byte_count"` // data size expression, "0 B" disables
	Expiration     string   `yaml:"expiration"`     // time period expression, "0 mins" disables
	SwapThreshold  int      `yaml:"swap_threshold"`
	Prioritizers   []string `yaml:"prioritizers"`
	DeliveryBatch  int      `yaml:"delivery_batch"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Health  HealthConfig  `yaml:"health"`
	Logging LoggingConfig `yaml:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

type HealthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Listen        string `yaml:"listen"`
	LivenessPath  string `yaml:"liveness_path"`
	ReadinessPath string `yaml:"readiness_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}

	if c.Repository.Path == "" {
		return fmt.Errorf("repository.path is required")
	}

	switch c.Swap.Backend {
	case "file":
		if c.Swap.Dir == "" {
			return fmt.Errorf("swap.dir is required for the file backend")
		}
	case "s3":
		if c.Swap.S3.Bucket == "" {
			return fmt.Errorf("swap.s3.bucket is required for the s3 backend")
		}
		if c.Swap.S3.Region == "" && c.Swap.S3.Endpoint == "" {
			return fmt.Errorf("swap.s3 requires a region or endpoint")
		}
	default:
		return fmt.Errorf("swap.backend must be \"file\" or \"s3\", got %q", c.Swap.Backend)
	}

	if len(c.Queues) == 0 {
		return fmt.Errorf("at least one queue must be configured")
	}

	seen := make(map[string]bool)
	for i, qc := range c.Queues {
		if qc.Identifier == "" {
			return fmt.Errorf("queues[%d].identifier is required", i)
		}
		if seen[qc.Identifier] {
			return fmt.Errorf("queues[%d]: duplicate identifier %q", i, qc.Identifier)
		}
		seen[qc.Identifier] = true

		if qc.InSubject == "" {
			return fmt.Errorf("queues[%d] (%s): in_subject is required", i, qc.Identifier)
		}
		if qc.OutSubject == "" {
			return fmt.Errorf("queues[%d] (%s): out_subject is required", i, qc.Identifier)
		}
		if qc.SwapThreshold <= 0 {
			return fmt.Errorf("queues[%d] (%s): swap_threshold must be > 0", i, qc.Identifier)
		}
		if qc.MaxByteCount != "" {
			if _, err := ParseDataSize(qc.MaxByteCount); err != nil {
				return fmt.Errorf("queues[%d] (%s): invalid max_byte_count: %w", i, qc.Identifier, err)
			}
		}
		if qc.Expiration != "" {
			if _, err := ParseTimePeriod(qc.Expiration); err != nil {
				return fmt.Errorf("queues[%d] (%s): invalid expiration: %w", i, qc.Identifier, err)
			}
		}
	}

	return nil
}
