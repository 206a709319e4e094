// Package config collects process configuration from flags and environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dukex/flowmedic/pkg/engine"
	"github.com/dukex/flowmedic/pkg/healing"
	"github.com/dukex/flowmedic/pkg/models"
	"github.com/dukex/flowmedic/pkg/worker"
	"github.com/go-playground/validator/v10"
	"github.com/urfave/cli/v3"
)

const (
	DefaultAPIPort     = 9091
	DefaultIntakeQueue = "flowmedic:intake"
	DefaultEngineURL   = "http://localhost:5678/api/v1"
)

type Config struct {
	DatabaseURL  string   `validate:"required"`
	EventBus     string   `validate:"oneof=memory kafka"`
	KafkaBrokers []string `validate:"required_if=EventBus kafka"`

	Engine   engine.Config
	Workers  worker.Config
	Policies models.PolicyTable

	HealingEnabled    bool
	Healing           healing.Config
	ValidationTimeout time.Duration `validate:"min=0"`
	CatalogPath       string

	AlertInterval time.Duration `validate:"min=0"`
	APIPort       int           `validate:"min=1,max=65535"`

	RedisURL    string `validate:"omitempty,url"`
	IntakeQueue string `validate:"required_with=RedisURL"`

	LogLevel    string `validate:"oneof=debug info warn error"`
	LogFormat   string `validate:"oneof=text json"`
	OTELEnabled bool
}

// Flags are shared by every command that runs the orchestrator.
func Flags() []cli.Flag {
	defaults := models.DefaultPolicyTable()
	healingDefaults := healing.DefaultConfig()

	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Persistence URL (file://path or postgres://...)",
			Value:   "file://./data",
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (memory, kafka)",
			Value:   "memory",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "engine-url",
			Usage:   "Base URL of the workflow engine REST API",
			Value:   DefaultEngineURL,
			Sources: cli.EnvVars("ENGINE_URL"),
		},
		&cli.StringFlag{
			Name:    "engine-api-key",
			Usage:   "API key sent to the workflow engine",
			Sources: cli.EnvVars("ENGINE_API_KEY"),
		},
		&cli.StringFlag{
			Name:    "engine-api-key-header",
			Usage:   "Header carrying the engine API key",
			Value:   engine.DefaultAPIKeyHeader,
			Sources: cli.EnvVars("ENGINE_API_KEY_HEADER"),
		},
		&cli.FloatFlag{
			Name:    "engine-rate-limit",
			Usage:   "Maximum engine requests per second (0 disables the limit)",
			Value:   10,
			Sources: cli.EnvVars("ENGINE_RATE_LIMIT"),
		},
		&cli.DurationFlag{
			Name:    "engine-timeout",
			Usage:   "Timeout of a single engine HTTP call",
			Value:   30 * time.Second,
			Sources: cli.EnvVars("ENGINE_TIMEOUT"),
		},
		&cli.IntFlag{
			Name:    "worker-count",
			Usage:   "Number of concurrent dispatch workers",
			Value:   4,
			Sources: cli.EnvVars("WORKER_COUNT"),
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "How often running executions are polled on the engine",
			Value:   worker.DefaultPollInterval,
			Sources: cli.EnvVars("POLL_INTERVAL"),
		},
		&cli.DurationFlag{
			Name:    "execution-timeout",
			Usage:   "How long a dispatched execution may run before it times out",
			Value:   worker.DefaultExecutionTimeout,
			Sources: cli.EnvVars("EXECUTION_TIMEOUT"),
		},
		&cli.BoolFlag{
			Name:    "wait-for-completion",
			Usage:   "Poll the engine until executions finish instead of treating acceptance as success",
			Value:   true,
			Sources: cli.EnvVars("WAIT_FOR_COMPLETION"),
		},
		policyFlag(models.PriorityUrgent, defaults),
		policyFlag(models.PriorityHigh, defaults),
		policyFlag(models.PriorityNormal, defaults),
		policyFlag(models.PriorityLow, defaults),
		&cli.BoolFlag{
			Name:    "healing-enabled",
			Usage:   "Run the self-healing loop",
			Value:   true,
			Sources: cli.EnvVars("HEALING_ENABLED"),
		},
		&cli.DurationFlag{
			Name:    "healing-interval",
			Value:   healingDefaults.Interval,
			Sources: cli.EnvVars("HEALING_INTERVAL"),
		},
		&cli.IntFlag{
			Name:    "healing-scan-limit",
			Value:   healingDefaults.ScanLimit,
			Sources: cli.EnvVars("HEALING_SCAN_LIMIT"),
		},
		&cli.IntFlag{
			Name:    "healing-max-retries",
			Value:   healingDefaults.MaxRetries,
			Sources: cli.EnvVars("HEALING_MAX_RETRIES"),
		},
		&cli.DurationFlag{
			Name:    "healing-retry-delay",
			Value:   healingDefaults.RetryDelay,
			Sources: cli.EnvVars("HEALING_RETRY_DELAY"),
		},
		&cli.StringFlag{
			Name:    "healing-auto-fix-severities",
			Value:   "high,medium,low",
			Sources: cli.EnvVars("HEALING_AUTO_FIX_SEVERITIES"),
		},
		&cli.StringFlag{
			Name:    "healing-approval-required-types",
			Value:   "Authentication,CredentialMissing,InvalidExpression",
			Sources: cli.EnvVars("HEALING_APPROVAL_REQUIRED_TYPES"),
		},
		&cli.DurationFlag{
			Name:    "validation-timeout",
			Usage:   "How long a fix validation run may take",
			Value:   10 * time.Minute,
			Sources: cli.EnvVars("VALIDATION_TIMEOUT"),
		},
		&cli.StringFlag{
			Name:    "pattern-catalog-path",
			Usage:   "YAML or JSON file extending the built-in error pattern catalog",
			Sources: cli.EnvVars("PATTERN_CATALOG_PATH"),
		},
		&cli.DurationFlag{
			Name:    "alert-interval",
			Value:   time.Minute,
			Sources: cli.EnvVars("ALERT_INTERVAL"),
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port of the control API",
			Value:   DefaultAPIPort,
			Sources: cli.EnvVars("API_PORT"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL of the webhook intake queue (disabled when empty)",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "intake-queue",
			Value:   DefaultIntakeQueue,
			Sources: cli.EnvVars("INTAKE_QUEUE"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
		&cli.BoolFlag{
			Name:    "otel-enabled",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
	}
}

func policyFlag(priority models.Priority, defaults models.PolicyTable) cli.Flag {
	return &cli.StringFlag{
		Name:    "dispatch-policy-" + string(priority),
		Usage:   "Dispatch policy for " + string(priority) + " executions (attempts/kind/delay)",
		Value:   defaults[priority].String(),
		Sources: cli.EnvVars("DISPATCH_POLICY_" + strings.ToUpper(string(priority))),
	}
}

// Load reads and validates the configuration of a command built with Flags.
func Load(command *cli.Command) (*Config, error) {
	cfg := &Config{
		DatabaseURL:  command.String("database-url"),
		EventBus:     command.String("event-bus"),
		KafkaBrokers: splitList(command.String("kafka-brokers")),
		Engine: engine.Config{
			BaseURL:           command.String("engine-url"),
			APIKey:            command.String("engine-api-key"),
			APIKeyHeader:      command.String("engine-api-key-header"),
			RequestsPerSecond: command.Float("engine-rate-limit"),
			Timeout:           command.Duration("engine-timeout"),
		},
		Workers: worker.Config{
			Size:              command.Int("worker-count"),
			PollInterval:      command.Duration("poll-interval"),
			ExecutionTimeout:  command.Duration("execution-timeout"),
			WaitForCompletion: command.Bool("wait-for-completion"),
		},
		Policies:       make(models.PolicyTable),
		HealingEnabled: command.Bool("healing-enabled"),
		Healing: healing.Config{
			Interval:   command.Duration("healing-interval"),
			ScanLimit:  command.Int("healing-scan-limit"),
			MaxRetries: command.Int("healing-max-retries"),
			RetryDelay: command.Duration("healing-retry-delay"),
		},
		ValidationTimeout: command.Duration("validation-timeout"),
		CatalogPath:       command.String("pattern-catalog-path"),
		AlertInterval:     command.Duration("alert-interval"),
		APIPort:           command.Int("port"),
		RedisURL:          command.String("redis-url"),
		IntakeQueue:       command.String("intake-queue"),
		LogLevel:          command.String("log-level"),
		LogFormat:         command.String("log-format"),
		OTELEnabled:       command.Bool("otel-enabled"),
	}

	for _, priority := range models.Priorities {
		policy, err := models.ParseDispatchPolicy(command.String("dispatch-policy-" + string(priority)))
		if err != nil {
			return nil, fmt.Errorf("invalid %s dispatch policy: %w", priority, err)
		}

		cfg.Policies[priority] = policy
	}

	for _, raw := range splitList(command.String("healing-auto-fix-severities")) {
		severity := models.Severity(strings.ToLower(raw))
		if !severity.Valid() {
			return nil, fmt.Errorf("unknown severity %q", raw)
		}

		cfg.Healing.AutoFixSeverities = append(cfg.Healing.AutoFixSeverities, severity)
	}

	for _, raw := range splitList(command.String("healing-approval-required-types")) {
		errorType := models.ErrorType(raw)
		if !errorType.Valid() {
			return nil, fmt.Errorf("unknown error type %q", raw)
		}

		cfg.Healing.ApprovalRequiredTypes = append(cfg.Healing.ApprovalRequiredTypes, errorType)
	}

	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	err := validate.Struct(c)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

func splitList(raw string) []string {
	var items []string

	for item := range strings.SplitSeq(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}

	return items
}
