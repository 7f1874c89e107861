package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}
	return configPath
}

func TestLoadConfig_Success(t *testing.T) {
	configPath := writeConfig(t, `port: 8080
storage:
  root: /srv/frames
groups: [temperature, wind]
imagesPerGroup: 24
startTime: "2024-06-01 00:00:00"
allowedExtensions: [.PNG, .jpg]
filenameConvention: grouped
reencode:
  enabled: true
  commands:
    - name: FlattenCommand
      background: "#000000"
    - name: ReencodeCommand
      maxWidth: 1280
database:
  type: sqlite
  connectionString: ":memory:"
`)

	config, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.Port != 8080 {
		t.Errorf("Expected port to be 8080, got %d", config.Port)
	}
	if config.ImagesRoot() != filepath.Join("/srv/frames", "images") {
		t.Errorf("Expected images root under /srv/frames, got %s", config.ImagesRoot())
	}
	if len(config.Groups) != 2 || config.Groups[1] != "wind" {
		t.Errorf("Unexpected groups %v", config.Groups)
	}
	if config.AllowedExtensions[0] != ".png" {
		t.Errorf("Expected extensions to be lower-cased, got %v", config.AllowedExtensions)
	}
	if got := config.StartAt().Format(StartTimeLayout); got != "2024-06-01 00:00:00" {
		t.Errorf("Unexpected start time %s", got)
	}
	if config.DisplayDurationMs != 3000 {
		t.Errorf("Expected default display duration, got %d", config.DisplayDurationMs)
	}

	commands := config.CommandConfigs()
	if len(commands) != 2 || commands[1].Name != "ReencodeCommand" {
		t.Fatalf("Unexpected commands %+v", commands)
	}
	if commands[1].Params["maxWidth"] != 1280 {
		t.Errorf("Expected inline maxWidth param, got %v", commands[1].Params)
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	config, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.ImagesPerGroup != 48 || len(config.Groups) != 4 {
		t.Errorf("Expected default groups and slot count, got %d / %v", config.ImagesPerGroup, config.Groups)
	}
	if got := config.StartAt().Format("2006-01-02T15:04:05"); got != "2023-01-01T01:00:00" {
		t.Errorf("Expected default start time, got %s", got)
	}
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORAGE_PATH", "/mnt/volume")

	config, err := LoadConfig(writeConfig(t, "port: 8080\n"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if config.Port != 9090 {
		t.Errorf("Expected PORT override, got %d", config.Port)
	}
	if config.Storage.Root != "/mnt/volume" {
		t.Errorf("Expected STORAGE_PATH override, got %s", config.Storage.Root)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"duplicate group", "groups: [a, a]", "duplicate group"},
		{"group with separator", "groups: [a/b]", "not a valid directory name"},
		{"zero slots", "imagesPerGroup: 0", "imagesPerGroup"},
		{"bad extension", "allowedExtensions: [jpg]", "must start with"},
		{"bad convention", "filenameConvention: random", "filenameConvention"},
		{"bad start time", `startTime: "yesterday"`, "startTime"},
		{"redis without address", "cache: {type: redis}", "address"},
		{"unknown command", "reencode: {commands: [{name: MagicCommand}]}", "unknown command"},
		{"malformed yaml", "port: [", "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadConfig_InvalidPortEnv(t *testing.T) {
	t.Setenv("PORT", "eighty")

	if _, err := LoadConfig(writeConfig(t, "")); err == nil {
		t.Fatal("Expected error for non-numeric PORT")
	}
}
