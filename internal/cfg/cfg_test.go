package cfg

import (
	"flag"
	"math"
	"slices"
	"strings"
	"testing"
)

// validBase returns a Config with all required fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:          60,
		ShutdownBudgetSeconds: 90,
		APIPort:               8080,
		ACLFile:               "/etc/warden/acl.yaml",
		TriageServices:        "strings",
		ServiceMode:           "async",
		ServiceTimeoutSeconds: 300,
		StringsLimit:          200,
		ClaudeModel:           "claude-sonnet-4-20250514",
		MinioBucket:           "warden-samples",
	}
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.DrainSeconds != 60 {
		t.Errorf("DrainSeconds = %d, want 60", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 90 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 90", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", c.APIPort)
	}
	if c.ServiceMode != "async" {
		t.Errorf("ServiceMode = %q, want async", c.ServiceMode)
	}
	if c.DBSlowQueryMillis != 200 {
		t.Errorf("DBSlowQueryMillis = %d, want 200", c.DBSlowQueryMillis)
	}
	if !slices.Equal(c.TriageList(), []string{"strings"}) {
		t.Errorf("TriageList = %v, want [strings]", c.TriageList())
	}
	if !c.MinioUseSSL {
		t.Error("MinioUseSSL = false, want true")
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "30",
		"-shutdown-budget-seconds", "120",
		"-http-port", "9090",
		"-acl-file", "acl.yaml",
		"-triage-services", "strings, claude",
		"-service-mode", "sync",
		"-claude-api-key", "sk-override",
		"-minio-use-ssl=false",
		"-cors-origins", "https://a.example,https://b.example",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.DrainSeconds != 30 {
		t.Errorf("DrainSeconds = %d, want 30", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 120 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 120", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", c.APIPort)
	}
	if c.ACLFile != "acl.yaml" {
		t.Errorf("ACLFile = %q, want acl.yaml", c.ACLFile)
	}
	if !slices.Equal(c.TriageList(), []string{"strings", "claude"}) {
		t.Errorf("TriageList = %v", c.TriageList())
	}
	if c.ServiceMode != "sync" {
		t.Errorf("ServiceMode = %q, want sync", c.ServiceMode)
	}
	if c.MinioUseSSL {
		t.Error("MinioUseSSL = true, want false")
	}
	if got := c.CORSOriginList(); len(got) != 2 || got[1] != "https://b.example" {
		t.Errorf("CORSOriginList = %v", got)
	}
}

func TestSplitList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{" , ,", nil},
		{"a", []string{"a"}},
		{" a ,b,, c ", []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		if got := splitList(tt.in); !slices.Equal(got, tt.want) {
			t.Errorf("splitList(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	with := func(mut func(*Config)) Config {
		c := validBase()
		mut(&c)
		return c
	}

	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:    "defaults are valid",
			cfg:     validBase(),
			wantErr: false,
		},
		{
			name: "minimum valid values",
			cfg: with(func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = 1, 2, 1
				c.ServiceTimeoutSeconds, c.StringsLimit = 1, 1
			}),
			wantErr: false,
		},
		{
			name: "maximum valid values",
			cfg: with(func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = 299, 300, 65535
				c.ServiceTimeoutSeconds = 3600
			}),
			wantErr: false,
		},
		// DrainSeconds boundaries
		{
			name:      "drain zero",
			cfg:       with(func(c *Config) { c.DrainSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain above max",
			cfg:       with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 301, 302 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:    "drain at upper bound",
			cfg:     with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 300, 300 }),
			wantErr: true, // budget must be greater than drain
		},
		// ShutdownBudgetSeconds boundaries
		{
			name:      "budget zero",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		{
			name:      "budget above max",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 301 }),
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		// Cross-field: budget vs drain
		{
			name:      "budget equals drain",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 60 }),
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		// APIPort boundaries
		{
			name:      "port zero",
			cfg:       with(func(c *Config) { c.APIPort = 0 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:      "port above max",
			cfg:       with(func(c *Config) { c.APIPort = 65536 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		// App fields
		{
			name:      "missing acl file",
			cfg:       with(func(c *Config) { c.ACLFile = "" }),
			wantErr:   true,
			errSubstr: []string{"ACL_FILE"},
		},
		{
			name:      "two databases",
			cfg:       with(func(c *Config) { c.DatabaseURL, c.SQLitePath = "postgres://x", "w.db" }),
			wantErr:   true,
			errSubstr: []string{"mutually exclusive"},
		},
		{
			name:      "negative slow query threshold",
			cfg:       with(func(c *Config) { c.DBSlowQueryMillis = -1 }),
			wantErr:   true,
			errSubstr: []string{"DB_SLOW_QUERY_MS"},
		},
		{
			name:      "unknown service mode",
			cfg:       with(func(c *Config) { c.ServiceMode = "parallel" }),
			wantErr:   true,
			errSubstr: []string{"SERVICE_MODE"},
		},
		{
			name:      "service timeout zero",
			cfg:       with(func(c *Config) { c.ServiceTimeoutSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"SERVICE_TIMEOUT_SECONDS"},
		},
		{
			name:      "strings limit zero",
			cfg:       with(func(c *Config) { c.StringsLimit = 0 }),
			wantErr:   true,
			errSubstr: []string{"STRINGS_LIMIT"},
		},
		{
			name:      "claude triage without key",
			cfg:       with(func(c *Config) { c.TriageServices = "strings,claude" }),
			wantErr:   true,
			errSubstr: []string{"CLAUDE_API_KEY"},
		},
		{
			name:    "claude triage with key",
			cfg:     with(func(c *Config) { c.TriageServices, c.ClaudeAPIKey = "claude", "sk" }),
			wantErr: false,
		},
		{
			name:      "claude triage without model",
			cfg:       with(func(c *Config) { c.TriageServices, c.ClaudeAPIKey, c.ClaudeModel = "claude", "sk", "" }),
			wantErr:   true,
			errSubstr: []string{"CLAUDE_MODEL"},
		},
		{
			name:      "minio without bucket",
			cfg:       with(func(c *Config) { c.MinioEndpoint, c.MinioBucket = "minio:9000", "" }),
			wantErr:   true,
			errSubstr: []string{"MINIO_BUCKET"},
		},
		// Error accumulation: all fields invalid
		{
			name:      "all fields invalid",
			cfg:       Config{},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT", "ACL_FILE", "SERVICE_MODE", "SERVICE_TIMEOUT_SECONDS", "STRINGS_LIMIT"},
		},
		// Extreme values
		{
			name: "extreme negative values",
			cfg: with(func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = math.MinInt32, math.MinInt32, math.MinInt32
			}),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func FuzzValidate(f *testing.F) {
	// Seeds: defaults, boundaries, extremes
	seeds := []struct {
		drain, budget, port, timeout int
		acl, mode                    string
	}{
		{60, 90, 8080, 300, "acl.yaml", "async"},
		{1, 2, 1, 1, "a", "sync"},
		{299, 300, 65535, 3600, "a", "async"},
		{0, 0, 0, 0, "", ""},
		{-1, -1, -1, -1, "", "bogus"},
		{300, 300, 65535, 3601, "a", "async"},
		{150, 100, 8080, 300, "a", "sync"},
		{math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, "", ""},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, "", ""},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.timeout, s.acl, s.mode)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port, timeout int, acl, mode string) {
		c := validBase()
		c.DrainSeconds = drain
		c.ShutdownBudgetSeconds = budget
		c.APIPort = port
		c.ServiceTimeoutSeconds = timeout
		c.ACLFile = acl
		c.ServiceMode = mode
		err := c.Validate()

		drainOK := drain >= 1 && drain <= 300
		budgetOK := budget >= 1 && budget <= 300
		portOK := port >= 1 && port <= 65535
		crossOK := budget > drain
		timeoutOK := timeout >= 1 && timeout <= 3600
		aclOK := acl != ""
		modeOK := mode == "sync" || mode == "async"

		allValid := drainOK && budgetOK && portOK && crossOK && timeoutOK && aclOK && modeOK

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}
