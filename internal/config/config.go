package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied by LoadConfig.
const (
	DefaultSyncWindowDays  = 30
	DefaultTitle           = "Shift"
	DefaultCalendarName    = "Shifts"
	DefaultCalendarColorID = "7"
	DefaultLogMaxSizeMB    = 10
)

// GoogleCredentials represents the structure of Google OAuth credentials JSON file.
type GoogleCredentials struct {
	Installed struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"installed"`
	Web struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	} `json:"web"`
}

// LoadGoogleCredentials loads Google OAuth credentials from a JSON file.
func LoadGoogleCredentials(path string) (clientID, clientSecret string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to read credentials file: %w", err)
	}

	var creds GoogleCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", "", fmt.Errorf("failed to parse credentials file: %w", err)
	}

	// Try "installed" first (for desktop apps), then "web"
	if creds.Installed.ClientID != "" {
		return creds.Installed.ClientID, creds.Installed.ClientSecret, nil
	}
	if creds.Web.ClientID != "" {
		return creds.Web.ClientID, creds.Web.ClientSecret, nil
	}

	return "", "", fmt.Errorf("no client_id found in credentials file (expected 'installed' or 'web' section)")
}

// ShiftSource configures access to the Teams schedule shifts are read from.
type ShiftSource struct {
	TenantID          string `json:"tenant_id" yaml:"tenant_id"`
	ClientID          string `json:"client_id" yaml:"client_id"`
	ClientSecret      string `json:"client_secret,omitempty" yaml:"client_secret,omitempty"` // Empty for public client registrations
	TokenPath         string `json:"token_path" yaml:"token_path"`
	TeamID            string `json:"team_id" yaml:"team_id"`
	OwnerID           string `json:"owner_id" yaml:"owner_id"`                                           // Graph user ID whose shifts are synced
	SchedulingGroupID string `json:"scheduling_group_id,omitempty" yaml:"scheduling_group_id,omitempty"` // Optional filter
	GraphBaseURL      string `json:"graph_base_url,omitempty" yaml:"graph_base_url,omitempty"`
}

// Destination represents a single destination calendar configuration.
type Destination struct {
	Name            string `json:"name" yaml:"name"`                                                 // Name for logging (e.g., "Personal Google", "iCloud")
	Type            string `json:"type" yaml:"type"`                                                 // "google" or "apple"
	TokenPath       string `json:"token_path,omitempty" yaml:"token_path,omitempty"`                 // For Google: path to OAuth token file
	CalendarName    string `json:"calendar_name,omitempty" yaml:"calendar_name,omitempty"`           // Name of the calendar to create/use
	CalendarColorID string `json:"calendar_color_id,omitempty" yaml:"calendar_color_id,omitempty"` // Color ID for the calendar
	LedgerPath      string `json:"ledger_path,omitempty" yaml:"ledger_path,omitempty"`               // Defaults to <state_dir>/ledger-<name>.json

	// Apple Calendar specific fields
	ServerURL string `json:"server_url,omitempty" yaml:"server_url,omitempty"` // CalDAV server URL (e.g., "https://caldav.icloud.com")
	Username  string `json:"username,omitempty" yaml:"username,omitempty"`     // iCloud email
	Password  string `json:"password,omitempty" yaml:"password,omitempty"`     // App-specific password
}

// Config holds the configuration for the shift sync tool.
type Config struct {
	ShiftSource           ShiftSource   `json:"shift_source" yaml:"shift_source"`
	GoogleCredentialsPath string        `json:"google_credentials_path,omitempty" yaml:"google_credentials_path,omitempty"`
	Destinations          []Destination `json:"destinations" yaml:"destinations"` // At least one is required

	SyncWindowDays int    `json:"sync_window_days,omitempty" yaml:"sync_window_days,omitempty"` // Days ahead of now to sync (default: 30)
	TimeZone       string `json:"time_zone,omitempty" yaml:"time_zone,omitempty"`               // IANA zone for event times (default: local)
	DefaultTitle   string `json:"default_title,omitempty" yaml:"default_title,omitempty"`
	StateDir       string `json:"state_dir,omitempty" yaml:"state_dir,omitempty"`
	Schedule       string `json:"schedule,omitempty" yaml:"schedule,omitempty"` // Cron expression; empty runs once

	LogFile       string `json:"log_file,omitempty" yaml:"log_file,omitempty"` // Rotated copy of the log; empty logs to stderr only
	LogMaxSizeMB  int    `json:"log_max_size_mb,omitempty" yaml:"log_max_size_mb,omitempty"`
	LogMaxBackups int    `json:"log_max_backups,omitempty" yaml:"log_max_backups,omitempty"`
	LogMaxAgeDays int    `json:"log_max_age_days,omitempty" yaml:"log_max_age_days,omitempty"`
}

// Overrides holds command-line values that take precedence over everything else.
type Overrides struct {
	ShiftTokenPath        string
	OwnerID               string
	TeamID                string
	GoogleCredentialsPath string
	SyncWindowDays        int
	TimeZone              string
	StateDir              string
	Schedule              string
}

// LoadConfigFromFile loads configuration from a JSON or YAML file, chosen by extension.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return &config, nil
}

// LoadConfig loads configuration with the following precedence (highest to lowest):
// 1. Command-line flags
// 2. Environment variables
// 3. Config file
// 4. Defaults
// Returns an error if any required value is missing.
func LoadConfig(configFile string, flags Overrides) (*Config, error) {
	var config Config

	// Step 1: Load from config file if provided
	if configFile != "" {
		fileConfig, err := LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
		config = *fileConfig
	}

	// Step 2: Override with environment variables
	if err := applyEnv(&config); err != nil {
		return nil, err
	}

	// Step 3: Override with command-line flags (highest priority)
	applyFlags(&config, flags)

	// Step 4: Apply defaults and validate required fields
	if err := config.finalize(); err != nil {
		return nil, err
	}
	return &config, nil
}

func applyEnv(config *Config) error {
	setFromEnv(&config.ShiftSource.TokenPath, "SHIFT_TOKEN_PATH")
	setFromEnv(&config.ShiftSource.OwnerID, "SHIFT_OWNER_ID")
	setFromEnv(&config.ShiftSource.TeamID, "SHIFT_TEAM_ID")
	setFromEnv(&config.GoogleCredentialsPath, "GOOGLE_CREDENTIALS_PATH")
	setFromEnv(&config.TimeZone, "SYNC_TIME_ZONE")
	setFromEnv(&config.StateDir, "SYNC_STATE_DIR")

	if days := os.Getenv("SYNC_WINDOW_DAYS"); days != "" {
		n, err := strconv.Atoi(days)
		if err != nil {
			return fmt.Errorf("invalid SYNC_WINDOW_DAYS value: %w", err)
		}
		config.SyncWindowDays = n
	}
	return nil
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func applyFlags(config *Config, flags Overrides) {
	setIfSet(&config.ShiftSource.TokenPath, flags.ShiftTokenPath)
	setIfSet(&config.ShiftSource.OwnerID, flags.OwnerID)
	setIfSet(&config.ShiftSource.TeamID, flags.TeamID)
	setIfSet(&config.GoogleCredentialsPath, flags.GoogleCredentialsPath)
	setIfSet(&config.TimeZone, flags.TimeZone)
	setIfSet(&config.StateDir, flags.StateDir)
	setIfSet(&config.Schedule, flags.Schedule)
	if flags.SyncWindowDays != 0 {
		config.SyncWindowDays = flags.SyncWindowDays
	}
}

func setIfSet(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (config *Config) finalize() error {
	src := &config.ShiftSource
	if src.TokenPath == "" {
		return fmt.Errorf("shift_source.token_path must be provided via --shift-token-path flag, SHIFT_TOKEN_PATH environment variable, or config file")
	}
	if src.OwnerID == "" {
		return fmt.Errorf("shift_source.owner_id must be provided via --owner-id flag, SHIFT_OWNER_ID environment variable, or config file")
	}
	if src.TeamID == "" {
		return fmt.Errorf("shift_source.team_id must be provided via --team-id flag, SHIFT_TEAM_ID environment variable, or config file")
	}
	if src.TenantID == "" || src.ClientID == "" {
		return fmt.Errorf("shift_source.tenant_id and shift_source.client_id must be provided in config file")
	}

	if config.SyncWindowDays < 0 {
		return fmt.Errorf("sync_window_days must not be negative, got %d", config.SyncWindowDays)
	}
	if config.SyncWindowDays == 0 {
		config.SyncWindowDays = DefaultSyncWindowDays
	}
	if config.DefaultTitle == "" {
		config.DefaultTitle = DefaultTitle
	}
	if config.StateDir == "" {
		config.StateDir = "."
	}
	if config.LogMaxSizeMB == 0 {
		config.LogMaxSizeMB = DefaultLogMaxSizeMB
	}

	// Validate that destinations array is provided
	if len(config.Destinations) == 0 {
		return fmt.Errorf("destinations array must be provided in config file. At least one destination is required")
	}

	ledgers := make(map[string]string)
	needsGoogle := false
	for i := range config.Destinations {
		dest := &config.Destinations[i]

		// Set default name if not provided
		if dest.Name == "" {
			dest.Name = fmt.Sprintf("Destination %d", i+1)
		}

		switch dest.Type {
		case "google":
			needsGoogle = true
			if dest.TokenPath == "" {
				return fmt.Errorf("destination[%d] (name: %s): token_path must be provided for Google Calendar destination", i, dest.Name)
			}
		case "apple":
			if dest.ServerURL == "" {
				return fmt.Errorf("destination[%d] (name: %s): server_url must be provided for Apple Calendar destination", i, dest.Name)
			}
			if dest.Username == "" {
				return fmt.Errorf("destination[%d] (name: %s): username must be provided for Apple Calendar destination", i, dest.Name)
			}
			if dest.Password == "" {
				return fmt.Errorf("destination[%d] (name: %s): password must be provided for Apple Calendar destination", i, dest.Name)
			}
		default:
			return fmt.Errorf("destination[%d].type must be 'google' or 'apple', got '%s'", i, dest.Type)
		}

		if dest.CalendarName == "" {
			dest.CalendarName = DefaultCalendarName
		}
		if dest.CalendarColorID == "" {
			dest.CalendarColorID = DefaultCalendarColorID
		}
		if dest.LedgerPath == "" {
			dest.LedgerPath = filepath.Join(config.StateDir, "ledger-"+Slug(dest.Name)+".json")
		}

		// Two destinations sharing a ledger would delete each other's events.
		if other, ok := ledgers[dest.LedgerPath]; ok {
			return fmt.Errorf("destinations %q and %q share ledger_path %s", other, dest.Name, dest.LedgerPath)
		}
		ledgers[dest.LedgerPath] = dest.Name
	}

	if needsGoogle && config.GoogleCredentialsPath == "" {
		return fmt.Errorf("google_credentials_path must be provided via --google-credentials-path flag, GOOGLE_CREDENTIALS_PATH environment variable, or config file")
	}

	return nil
}

// Slug lowercases name and replaces every run of characters outside
// [a-z0-9] with a single dash.
func Slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if s == "" {
		return "default"
	}
	return s
}

// FindDestination returns the destination with the given name.
func (config *Config) FindDestination(name string) (*Destination, bool) {
	for i := range config.Destinations {
		if config.Destinations[i].Name == name {
			return &config.Destinations[i], true
		}
	}
	return nil, false
}
