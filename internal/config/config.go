package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Built-in classification taxonomies, used when the config does not supply
// its own lists. Order matters: prompts and droplists present them as-is.
var defaultIssueTypes = []string{
	"Bug",
	"Configuration",
	"How-To",
	"Performance",
	"Feature Request",
}

var defaultRootCauses = []string{
	"Product Defect",
	"User Error",
	"Missing Documentation",
	"Integration Failure",
	"Known Limitation",
}

type Config struct {
	// Record store selection.
	Store        string `yaml:"store"` // "workbook" or "sqlite"
	WorkbookPath string `yaml:"workbook_path"`
	SourceSheet  string `yaml:"source_sheet"`
	DBPath       string `yaml:"db_path"`

	// Qualification window and threshold.
	ConfidenceThreshold int `yaml:"confidence_threshold"`
	DaysBack            int `yaml:"days_back"`

	// Classification fill.
	FillMode           string   `yaml:"fill_mode"` // "mirror", "mock", or "external"
	MockIfNoCredential *bool    `yaml:"mock_if_no_credential"`
	SourceIssueField   string   `yaml:"source_issue_field"`
	SourceCauseField   string   `yaml:"source_cause_field"`
	AllowedIssueTypes  []string `yaml:"allowed_issue_types"`
	AllowedRootCauses  []string `yaml:"allowed_root_causes"`

	LLMProvider      string `yaml:"llm_provider"`
	LLMModel         string `yaml:"llm_model"`
	LLMWorkers       int    `yaml:"llm_workers"`
	LLMExampleCount  int    `yaml:"llm_example_count"`
	LLMExampleMaxLen int    `yaml:"llm_example_max_chars"`
	AnthropicAPIKey  string `yaml:"anthropic_api_key"`
	OpenAIAPIKey     string `yaml:"openai_api_key"`

	// Output surfaces.
	TrendsSheet     string `yaml:"trends_sheet"`
	InsightsSheet   string `yaml:"insights_sheet"`
	DebugSheet      string `yaml:"debug_sheet"`
	ReportOutputDir string `yaml:"report_output_dir"`
	ReportName      string `yaml:"report_name"`
	SlackBotToken   string `yaml:"slack_bot_token"`
	SlackChannelID  string `yaml:"slack_channel_id"`

	Schedule string `yaml:"schedule"`
	Timezone string `yaml:"timezone"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

func Load() Config {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	envOverride(&cfg.Store, "STORE")
	envOverride(&cfg.WorkbookPath, "WORKBOOK_PATH")
	envOverride(&cfg.SourceSheet, "SOURCE_SHEET")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverrideInt(&cfg.ConfidenceThreshold, "CONFIDENCE_THRESHOLD")
	envOverrideInt(&cfg.DaysBack, "DAYS_BACK")
	envOverride(&cfg.FillMode, "FILL_MODE")
	if val := os.Getenv("MOCK_IF_NO_CREDENTIAL"); val != "" {
		b := strings.EqualFold(val, "true") || val == "1"
		cfg.MockIfNoCredential = &b
	}
	envOverride(&cfg.SourceIssueField, "SOURCE_ISSUE_FIELD")
	envOverride(&cfg.SourceCauseField, "SOURCE_CAUSE_FIELD")
	envOverrideList(&cfg.AllowedIssueTypes, "ALLOWED_ISSUE_TYPES")
	envOverrideList(&cfg.AllowedRootCauses, "ALLOWED_ROOT_CAUSES")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverrideInt(&cfg.LLMWorkers, "LLM_WORKERS")
	envOverrideInt(&cfg.LLMExampleCount, "LLM_EXAMPLE_COUNT")
	envOverrideInt(&cfg.LLMExampleMaxLen, "LLM_EXAMPLE_MAX_CHARS")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.TrendsSheet, "TRENDS_SHEET")
	envOverride(&cfg.InsightsSheet, "INSIGHTS_SHEET")
	envOverride(&cfg.DebugSheet, "DEBUG_SHEET")
	envOverride(&cfg.ReportOutputDir, "REPORT_OUTPUT_DIR")
	envOverride(&cfg.ReportName, "REPORT_NAME")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackChannelID, "SLACK_CHANNEL_ID")
	envOverride(&cfg.Schedule, "SCHEDULE")
	envOverride(&cfg.Timezone, "TIMEZONE")

	if cfg.Store == "" {
		cfg.Store = "workbook"
	}
	if cfg.WorkbookPath == "" {
		cfg.WorkbookPath = "./escalations.xlsx"
	}
	if cfg.SourceSheet == "" {
		cfg.SourceSheet = "Escalations"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./escalens.db"
	}
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = 60
	}
	if cfg.DaysBack == 0 {
		cfg.DaysBack = 30
	}
	if cfg.FillMode == "" {
		cfg.FillMode = "mock"
	}
	if cfg.MockIfNoCredential == nil {
		t := true
		cfg.MockIfNoCredential = &t
	}
	if len(cfg.AllowedIssueTypes) == 0 {
		cfg.AllowedIssueTypes = append([]string(nil), defaultIssueTypes...)
	}
	if len(cfg.AllowedRootCauses) == 0 {
		cfg.AllowedRootCauses = append([]string(nil), defaultRootCauses...)
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	if cfg.LLMWorkers == 0 {
		cfg.LLMWorkers = 4
	}
	if cfg.LLMExampleCount == 0 {
		cfg.LLMExampleCount = 12
	}
	if cfg.LLMExampleMaxLen == 0 {
		cfg.LLMExampleMaxLen = 300
	}
	if cfg.TrendsSheet == "" {
		cfg.TrendsSheet = "Trends"
	}
	if cfg.InsightsSheet == "" {
		cfg.InsightsSheet = "Insights"
	}
	if cfg.DebugSheet == "" {
		cfg.DebugSheet = "Debug"
	}
	if cfg.ReportOutputDir == "" {
		cfg.ReportOutputDir = "./reports"
	}
	if cfg.ReportName == "" {
		cfg.ReportName = "escalations"
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "0 9 * * 1"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}

	switch cfg.Store {
	case "workbook", "sqlite":
	default:
		log.Fatalf("store must be 'workbook' or 'sqlite', got '%s'", cfg.Store)
	}

	switch cfg.FillMode {
	case "mirror", "mock", "external":
	default:
		log.Fatalf("fill_mode must be 'mirror', 'mock', or 'external', got '%s'", cfg.FillMode)
	}

	// A missing API key is deliberately not fatal: the fill engine and the
	// insight composer degrade to mock output without one.
	switch cfg.LLMProvider {
	case "anthropic", "openai":
	default:
		log.Fatalf("llm_provider must be 'anthropic' or 'openai', got '%s'", cfg.LLMProvider)
	}

	if (cfg.SlackBotToken != "") != (cfg.SlackChannelID != "") {
		log.Fatalf("Partial Slack config: slack_bot_token and slack_channel_id are required together")
	}

	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 100 {
		log.Fatalf("invalid confidence_threshold '%d': must be between 0 and 100", cfg.ConfidenceThreshold)
	}
	if cfg.DaysBack < 1 {
		log.Fatalf("invalid days_back '%d': must be >= 1", cfg.DaysBack)
	}
	if cfg.LLMWorkers < 1 {
		log.Fatalf("invalid llm_workers '%d': must be >= 1", cfg.LLMWorkers)
	}
	if cfg.LLMExampleCount < 0 {
		log.Fatalf("invalid llm_example_count '%d': must be >= 0", cfg.LLMExampleCount)
	}
	if cfg.LLMExampleMaxLen < 20 {
		log.Fatalf("invalid llm_example_max_chars '%d': must be >= 20", cfg.LLMExampleMaxLen)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(cfg.Schedule); err != nil {
		log.Fatalf("invalid schedule '%s': %v", cfg.Schedule, err)
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Fatalf("invalid timezone '%s': %v", cfg.Timezone, err)
		}
		cfg.Location = loc
	}

	return cfg
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideList(field *[]string, envKey string) {
	if raw := os.Getenv(envKey); raw != "" {
		*field = nil
		for _, v := range strings.Split(raw, ",") {
			v = strings.TrimSpace(v)
			if v != "" {
				*field = append(*field, v)
			}
		}
	}
}

// MockFallback reports whether missing-credential paths degrade to mock
// output instead of a warning.
func (c Config) MockFallback() bool {
	return c.MockIfNoCredential == nil || *c.MockIfNoCredential
}

// LLMCredential returns the API key for the configured provider; empty means
// no credential is available.
func (c Config) LLMCredential() string {
	if c.LLMProvider == "openai" {
		return c.OpenAIAPIKey
	}
	return c.AnthropicAPIKey
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackChannelID != ""
}
