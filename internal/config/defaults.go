package config

import "time"

func DefaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:             "nats://localhost:4222",
			ConnectionName:  "flowfile-queue",
			MaxReconnects:   -1,
			ReconnectWait:   Duration(2 * time.Second),
			BulletinSubject: "ffq.bulletins",
		},
		Repository: RepositoryConfig{
			Path: "/var/lib/flowfile-queue/repo.db",
		},
		Swap: SwapConfig{
			Backend:            "file",
			Dir:                "/var/lib/flowfile-queue/swap",
			DiscardCorruptSwap: true,
		},
		API: APIConfig{
			Enabled: true,
			Listen:  ":8080",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Listen:  ":9090",
				Path:    "/metrics",
			},
			Health: HealthConfig{
				Enabled:       true,
				Listen:        ":8081",
				LivenessPath:  "/healthz",
				ReadinessPath: "/readyz",
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
				Output: "stderr",
			},
		},
	}
}

// ApplyQueueDefaults fills zero-valued queue settings.
func ApplyQueueDefaults(qc *QueueConfig) {
	if qc.SwapThreshold == 0 {
		qc.SwapThreshold = 20000
	}
	if qc.DeliveryBatch == 0 {
		qc.DeliveryBatch = 100
	}
	if qc.MaxByteCount == "" {
		qc.MaxByteCount = "0 B"
	}
	if qc.Expiration == "" {
		qc.Expiration = "0 mins"
	}
}
