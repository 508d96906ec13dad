package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// clearEnv blanks every variable LoadConfig reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SHIFT_TOKEN_PATH", "SHIFT_OWNER_ID", "SHIFT_TEAM_ID", "GOOGLE_CREDENTIALS_PATH",
		"SYNC_WINDOW_DAYS", "SYNC_TIME_ZONE", "SYNC_STATE_DIR",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

const minimalJSON = `{
	"shift_source": {
		"tenant_id": "contoso",
		"client_id": "graph-client",
		"token_path": "/config/graph_token.json",
		"team_id": "team-1",
		"owner_id": "user-1"
	},
	"google_credentials_path": "/config/credentials.json",
	"destinations": [
		{"name": "Personal Google", "type": "google", "token_path": "/config/google_token.json"}
	]
}`

func TestLoadConfig_ConfigFile(t *testing.T) {
	clearEnv(t)
	configPath := writeConfig(t, "config.json", minimalJSON)

	config, err := LoadConfig(configPath, Overrides{})
	if err != nil {
		t.Fatalf("LoadConfig() returned an error: %v", err)
	}

	if config.ShiftSource.TokenPath != "/config/graph_token.json" {
		t.Errorf("Expected ShiftSource.TokenPath to be '/config/graph_token.json', got '%s'", config.ShiftSource.TokenPath)
	}
	if config.ShiftSource.OwnerID != "user-1" {
		t.Errorf("Expected ShiftSource.OwnerID to be 'user-1', got '%s'", config.ShiftSource.OwnerID)
	}
	if config.GoogleCredentialsPath != "/config/credentials.json" {
		t.Errorf("Expected GoogleCredentialsPath to be '/config/credentials.json', got '%s'", config.GoogleCredentialsPath)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)
	configPath := writeConfig(t, "config.json", minimalJSON)

	config, err := LoadConfig(configPath, Overrides{})
	if err != nil {
		t.Fatalf("LoadConfig() returned an error: %v", err)
	}

	if config.SyncWindowDays != DefaultSyncWindowDays {
		t.Errorf("Expected SyncWindowDays to default to %d, got %d", DefaultSyncWindowDays, config.SyncWindowDays)
	}
	if config.DefaultTitle != "Shift" {
		t.Errorf("Expected DefaultTitle to default to 'Shift', got '%s'", config.DefaultTitle)
	}
	if config.StateDir != "." {
		t.Errorf("Expected StateDir to default to '.', got '%s'", config.StateDir)
	}

	dest := config.Destinations[0]
	if dest.CalendarName != DefaultCalendarName {
		t.Errorf("Expected CalendarName to default to '%s', got '%s'", DefaultCalendarName, dest.CalendarName)
	}
	if dest.CalendarColorID != "7" {
		t.Errorf("Expected CalendarColorID to default to '7', got '%s'", dest.CalendarColorID)
	}
	if want := filepath.Join(".", "ledger-personal-google.json"); dest.LedgerPath != want {
		t.Errorf("Expected LedgerPath to default to '%s', got '%s'", want, dest.LedgerPath)
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	clearEnv(t)
	configPath := writeConfig(t, "config.yaml", `
shift_source:
  tenant_id: contoso
  client_id: graph-client
  token_path: /config/graph_token.json
  team_id: team-1
  owner_id: user-1
  scheduling_group_id: TAG_b
sync_window_days: 14
time_zone: Europe/Berlin
state_dir: /var/lib/shiftsync
schedule: "*/15 * * * *"
destinations:
  - name: iCloud
    type: apple
    server_url: https://caldav.icloud.com
    username: me@icloud.com
    password: app-password
    calendar_name: Rota
`)

	config, err := LoadConfig(configPath, Overrides{})
	if err != nil {
		t.Fatalf("LoadConfig() returned an error: %v", err)
	}

	if config.ShiftSource.SchedulingGroupID != "TAG_b" {
		t.Errorf("Expected SchedulingGroupID 'TAG_b', got '%s'", config.ShiftSource.SchedulingGroupID)
	}
	if config.SyncWindowDays != 14 {
		t.Errorf("Expected SyncWindowDays 14, got %d", config.SyncWindowDays)
	}
	if config.TimeZone != "Europe/Berlin" {
		t.Errorf("Expected TimeZone 'Europe/Berlin', got '%s'", config.TimeZone)
	}
	if config.Schedule != "*/15 * * * *" {
		t.Errorf("Expected Schedule '*/15 * * * *', got '%s'", config.Schedule)
	}

	dest := config.Destinations[0]
	if dest.CalendarName != "Rota" {
		t.Errorf("Expected CalendarName 'Rota', got '%s'", dest.CalendarName)
	}
	if want := "/var/lib/shiftsync/ledger-icloud.json"; dest.LedgerPath != want {
		t.Errorf("Expected LedgerPath '%s', got '%s'", want, dest.LedgerPath)
	}
}

func TestLoadConfig_EnvVarsOverrideConfigFile(t *testing.T) {
	clearEnv(t)
	configPath := writeConfig(t, "config.json", minimalJSON)

	t.Setenv("GOOGLE_CREDENTIALS_PATH", "/env/credentials.json")
	t.Setenv("SHIFT_OWNER_ID", "env-user")
	t.Setenv("SYNC_WINDOW_DAYS", "7")

	config, err := LoadConfig(configPath, Overrides{})
	if err != nil {
		t.Fatalf("LoadConfig() returned an error: %v", err)
	}

	// This should come from config file
	if config.ShiftSource.TokenPath != "/config/graph_token.json" {
		t.Errorf("Expected ShiftSource.TokenPath from config file, got '%s'", config.ShiftSource.TokenPath)
	}
	if config.GoogleCredentialsPath != "/env/credentials.json" {
		t.Errorf("Expected GoogleCredentialsPath to be overridden by env var, got '%s'", config.GoogleCredentialsPath)
	}
	if config.ShiftSource.OwnerID != "env-user" {
		t.Errorf("Expected OwnerID to be overridden by env var, got '%s'", config.ShiftSource.OwnerID)
	}
	if config.SyncWindowDays != 7 {
		t.Errorf("Expected SyncWindowDays 7 from env var, got %d", config.SyncWindowDays)
	}
}

func TestLoadConfig_CommandLineFlags(t *testing.T) {
	clearEnv(t)
	configPath := writeConfig(t, "config.json", minimalJSON)
	t.Setenv("SHIFT_OWNER_ID", "env-user")
	t.Setenv("SYNC_WINDOW_DAYS", "7")

	config, err := LoadConfig(configPath, Overrides{
		OwnerID:        "flag-user",
		SyncWindowDays: 3,
		StateDir:       "/flag/state",
	})
	if err != nil {
		t.Fatalf("LoadConfig() returned an error: %v", err)
	}

	if config.ShiftSource.OwnerID != "flag-user" {
		t.Errorf("Expected OwnerID 'flag-user', got '%s'", config.ShiftSource.OwnerID)
	}
	if config.SyncWindowDays != 3 {
		t.Errorf("Expected SyncWindowDays 3, got %d", config.SyncWindowDays)
	}
	if want := "/flag/state/ledger-personal-google.json"; config.Destinations[0].LedgerPath != want {
		t.Errorf("Expected LedgerPath '%s', got '%s'", want, config.Destinations[0].LedgerPath)
	}
}

func TestLoadConfig_InvalidEnv(t *testing.T) {
	clearEnv(t)
	configPath := writeConfig(t, "config.json", minimalJSON)
	t.Setenv("SYNC_WINDOW_DAYS", "two weeks")

	if _, err := LoadConfig(configPath, Overrides{}); err == nil {
		t.Fatal("Expected an error for a non-numeric SYNC_WINDOW_DAYS")
	}
}

func TestLoadConfigMissing(t *testing.T) {
	clearEnv(t)

	config, err := LoadConfig("", Overrides{})
	if err == nil {
		t.Error("LoadConfig() should have returned an error when required values are missing")
	}
	if config != nil {
		t.Error("LoadConfig() should have returned nil config when there's an error")
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	source := `"shift_source": {"tenant_id": "t", "client_id": "c", "token_path": "/tok", "team_id": "team", "owner_id": "me"}`

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "no destinations",
			body:    `{` + source + `}`,
			wantErr: "destinations array",
		},
		{
			name:    "unknown type",
			body:    `{` + source + `, "destinations": [{"name": "x", "type": "outlook"}]}`,
			wantErr: "must be 'google' or 'apple'",
		},
		{
			name:    "apple without password",
			body:    `{` + source + `, "destinations": [{"name": "x", "type": "apple", "server_url": "https://c", "username": "u"}]}`,
			wantErr: "password",
		},
		{
			name:    "google without credentials",
			body:    `{` + source + `, "destinations": [{"name": "x", "type": "google", "token_path": "/g"}]}`,
			wantErr: "google_credentials_path",
		},
		{
			name: "shared ledger",
			body: `{` + source + `, "destinations": [
				{"name": "Phone", "type": "apple", "server_url": "https://c", "username": "u", "password": "p"},
				{"name": "phone", "type": "apple", "server_url": "https://d", "username": "u", "password": "p"}]}`,
			wantErr: "share ledger_path",
		},
		{
			name:    "negative window",
			body:    `{` + source + `, "sync_window_days": -1, "destinations": [{"name": "x", "type": "apple", "server_url": "https://c", "username": "u", "password": "p"}]}`,
			wantErr: "sync_window_days",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			configPath := writeConfig(t, "config.json", tt.body)

			_, err := LoadConfig(configPath, Overrides{})
			if err == nil {
				t.Fatalf("Expected an error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Personal Google": "personal-google",
		"iCloud":          "icloud",
		"  Work / Rota! ": "work-rota",
		"???":             "default",
	}
	for in, want := range tests {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFindDestination(t *testing.T) {
	config := &Config{Destinations: []Destination{{Name: "a"}, {Name: "b"}}}

	if d, ok := config.FindDestination("b"); !ok || d.Name != "b" {
		t.Errorf("Expected to find destination 'b', got %v, %v", d, ok)
	}
	if _, ok := config.FindDestination("c"); ok {
		t.Error("Expected no destination named 'c'")
	}
}

func TestLoadGoogleCredentials_Installed(t *testing.T) {
	credsPath := writeConfig(t, "credentials.json", `{
		"installed": {
			"client_id": "test-client-id",
			"client_secret": "test-client-secret"
		}
	}`)

	clientID, clientSecret, err := LoadGoogleCredentials(credsPath)
	if err != nil {
		t.Fatalf("LoadGoogleCredentials() returned an error: %v", err)
	}
	if clientID != "test-client-id" {
		t.Errorf("Expected clientID to be 'test-client-id', got '%s'", clientID)
	}
	if clientSecret != "test-client-secret" {
		t.Errorf("Expected clientSecret to be 'test-client-secret', got '%s'", clientSecret)
	}
}

func TestLoadGoogleCredentials_Web(t *testing.T) {
	credsPath := writeConfig(t, "credentials.json", `{
		"web": {
			"client_id": "web-client-id",
			"client_secret": "web-client-secret"
		}
	}`)

	clientID, clientSecret, err := LoadGoogleCredentials(credsPath)
	if err != nil {
		t.Fatalf("LoadGoogleCredentials() returned an error: %v", err)
	}
	if clientID != "web-client-id" {
		t.Errorf("Expected clientID to be 'web-client-id', got '%s'", clientID)
	}
	if clientSecret != "web-client-secret" {
		t.Errorf("Expected clientSecret to be 'web-client-secret', got '%s'", clientSecret)
	}
}
