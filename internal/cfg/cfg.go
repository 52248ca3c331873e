package cfg

import (
	"errors"
	"flag"
	"fmt"
	"slices"
	"strings"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	ACLFile               string
	DatabaseURL           string
	SQLitePath            string
	DBSlowQueryMillis     int
	TriageServices        string
	ServiceMode           string
	ServiceTimeoutSeconds int
	StringsLimit          int
	ClaudeAPIKey          string
	ClaudeModel           string
	SlackWebhookURL       string
	MinioEndpoint         string
	MinioRegion           string
	MinioBucket           string
	MinioAccessKey        string
	MinioSecretKey        string
	MinioUseSSL           bool
	CORSOrigins           string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.ACLFile, "acl-file", "", "YAML file mapping analysts to tokens and source labels")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = sqlite or in-memory store)")
	fs.IntVar(&c.DBSlowQueryMillis, "db-slow-query-ms", 200, "log postgres queries slower than this many milliseconds (0 = log all)")
	fs.StringVar(&c.SQLitePath, "sqlite-path", "", "SQLite database file (empty = in-memory store unless database-url is set)")
	fs.StringVar(&c.TriageServices, "triage-services", "strings", "comma-separated analyzers run on every new object, in order")
	fs.StringVar(&c.ServiceMode, "service-mode", "async", "analyzer execution mode (sync or async)")
	fs.IntVar(&c.ServiceTimeoutSeconds, "service-timeout-seconds", 300, "upper bound for one asynchronous analyzer run (1..3600)")
	fs.IntVar(&c.StringsLimit, "strings-limit", 200, "maximum strings recorded per sample by the strings analyzer")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the claude analyzer")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model used by the claude analyzer")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for finished-task notifications")
	fs.StringVar(&c.MinioEndpoint, "minio-endpoint", "", "S3/MinIO endpoint for sample content (empty = in-memory)")
	fs.StringVar(&c.MinioRegion, "minio-region", "", "S3/MinIO region")
	fs.StringVar(&c.MinioBucket, "minio-bucket", "warden-samples", "S3/MinIO bucket for sample content")
	fs.StringVar(&c.MinioAccessKey, "minio-access-key", "", "S3/MinIO access key")
	fs.StringVar(&c.MinioSecretKey, "minio-secret-key", "", "S3/MinIO secret key")
	fs.BoolVar(&c.MinioUseSSL, "minio-use-ssl", true, "use TLS for the S3/MinIO endpoint")
	fs.StringVar(&c.CORSOrigins, "cors-origins", "", "comma-separated origins allowed to call the API from a browser")
}

// TriageList returns the configured triage analyzers in order.
func (c *Config) TriageList() []string { return splitList(c.TriageServices) }

// CORSOriginList returns the configured CORS origins.
func (c *Config) CORSOriginList() []string { return splitList(c.CORSOrigins) }

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Every request is resolved to an analyst through the ACL
	if c.ACLFile == "" {
		errs = append(errs, errors.New("ACL_FILE is required"))
	}

	if c.DatabaseURL != "" && c.SQLitePath != "" {
		errs = append(errs, errors.New("DATABASE_URL and SQLITE_PATH are mutually exclusive"))
	}

	if c.DBSlowQueryMillis < 0 {
		errs = append(errs, fmt.Errorf("invalid DB_SLOW_QUERY_MS %d (must be >= 0)", c.DBSlowQueryMillis))
	}

	if c.ServiceMode != "sync" && c.ServiceMode != "async" {
		errs = append(errs, fmt.Errorf("invalid SERVICE_MODE %q (must be sync or async)", c.ServiceMode))
	}
	if c.ServiceTimeoutSeconds <= 0 || c.ServiceTimeoutSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid SERVICE_TIMEOUT_SECONDS %d (must be 1..3600)", c.ServiceTimeoutSeconds))
	}
	if c.StringsLimit <= 0 {
		errs = append(errs, fmt.Errorf("invalid STRINGS_LIMIT %d (must be positive)", c.StringsLimit))
	}

	// The claude analyzer needs credentials only when it is used for triage
	if slices.Contains(c.TriageList(), "claude") {
		if c.ClaudeAPIKey == "" {
			errs = append(errs, errors.New("CLAUDE_API_KEY is required when claude is a triage service"))
		}
		if c.ClaudeModel == "" {
			errs = append(errs, errors.New("CLAUDE_MODEL is required when claude is a triage service"))
		}
	}

	if c.MinioEndpoint != "" && c.MinioBucket == "" {
		errs = append(errs, errors.New("MINIO_BUCKET is required when MINIO_ENDPOINT is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
