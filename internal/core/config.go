package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jo-hoe/hourframe/internal/backend/commandstructure"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StartTimeLayout = "2006-01-02 15:04:05"

	ConventionIndexed = "indexed"
	ConventionGrouped = "grouped"
)

// CommandConfig represents a generic command configuration
type CommandConfig struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:",inline"`
}

type Database struct {
	Type             string `yaml:"type"`
	ConnectionString string `yaml:"connectionString"`
}

type Storage struct {
	Root      string `yaml:"root"`
	ImagesDir string `yaml:"imagesDir"`
}

type Cache struct {
	Type       string `yaml:"type"`
	Address    string `yaml:"address"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttlSeconds"`
}

type Reencode struct {
	Enabled     bool            `yaml:"enabled"`
	Concurrency int             `yaml:"concurrency"`
	Commands    []CommandConfig `yaml:"commands"`
}

type ServiceConfig struct {
	Port               int      `yaml:"port"`
	Storage            Storage  `yaml:"storage"`
	Groups             []string `yaml:"groups"`
	ImagesPerGroup     int      `yaml:"imagesPerGroup"`
	DisplayDurationMs  int      `yaml:"displayDurationMs"`
	StartTime          string   `yaml:"startTime"`
	AllowedExtensions  []string `yaml:"allowedExtensions"`
	FilenameConvention string   `yaml:"filenameConvention"`
	RequireFullBatch   bool     `yaml:"requireFullBatch"`
	MaxUploadBytes     int64    `yaml:"maxUploadBytes"`
	Reencode           Reencode `yaml:"reencode"`
	Cache              Cache    `yaml:"cache"`
	Database           Database `yaml:"database"`

	start time.Time
}

// DefaultConfig mirrors the deployment the service was built for.
func DefaultConfig() *ServiceConfig {
	return &ServiceConfig{
		Port: 5000,
		Storage: Storage{
			Root:      "/data",
			ImagesDir: "images",
		},
		Groups:             []string{"台海温度", "台海风速", "西藏温度", "西藏风速"},
		ImagesPerGroup:     48,
		DisplayDurationMs:  3000,
		StartTime:          "2023-01-01 01:00:00",
		AllowedExtensions:  []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp"},
		FilenameConvention: ConventionIndexed,
		MaxUploadBytes:     50 * 1024 * 1024,
		Reencode: Reencode{
			Enabled:     false,
			Concurrency: 4,
			Commands: []CommandConfig{
				{Name: "ReencodeCommand", Params: map[string]any{"maxWidth": 1920, "quality": 85}},
			},
		},
		Cache: Cache{
			Type:       "memory",
			TTLSeconds: 300,
		},
	}
}

// LoadConfig loads configuration from the specified YAML file. Values not set
// in the file keep their defaults. PORT and STORAGE_PATH (optionally provided
// through a .env file) take precedence over the file.
func LoadConfig(configPath string) (*ServiceConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	config := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// defaults only
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func applyEnvOverrides(config *ServiceConfig) error {
	if port := os.Getenv("PORT"); port != "" {
		value, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		config.Port = value
	}
	if root := os.Getenv("STORAGE_PATH"); root != "" {
		config.Storage.Root = root
	}
	return nil
}

// Validate checks the configuration and caches the parsed start time.
func (c *ServiceConfig) Validate() error {
	if c.Storage.Root == "" {
		return fmt.Errorf("storage root must not be empty")
	}
	if c.ImagesPerGroup < 1 || c.ImagesPerGroup > 999 {
		return fmt.Errorf("imagesPerGroup must be between 1 and 999, got %d", c.ImagesPerGroup)
	}
	if c.DisplayDurationMs <= 0 {
		return fmt.Errorf("displayDurationMs must be positive, got %d", c.DisplayDurationMs)
	}
	if err := validateGroups(c.Groups); err != nil {
		return err
	}
	if err := validateExtensions(c.AllowedExtensions); err != nil {
		return err
	}

	switch c.FilenameConvention {
	case ConventionIndexed, ConventionGrouped:
	default:
		return fmt.Errorf("unknown filenameConvention: %s", c.FilenameConvention)
	}

	start, err := time.Parse(StartTimeLayout, c.StartTime)
	if err != nil {
		return fmt.Errorf("invalid startTime %q: %w", c.StartTime, err)
	}
	c.start = start

	switch c.Cache.Type {
	case "", "none", "memory":
	case "redis":
		if c.Cache.Address == "" {
			return fmt.Errorf("redis cache requires an address")
		}
	default:
		return fmt.Errorf("unsupported cache type: %s", c.Cache.Type)
	}

	return validateCommands(c.Reencode.Commands)
}

// StartAt returns the timestamp of slot 1.
func (c *ServiceConfig) StartAt() time.Time {
	if c.start.IsZero() {
		if start, err := time.Parse(StartTimeLayout, c.StartTime); err == nil {
			return start
		}
	}
	return c.start
}

// ImagesRoot is the directory holding one sub-directory per group.
func (c *ServiceConfig) ImagesRoot() string {
	return filepath.Join(c.Storage.Root, c.Storage.ImagesDir)
}

func (c *ServiceConfig) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

func validateGroups(groups []string) error {
	if len(groups) == 0 {
		return fmt.Errorf("at least one group must be configured")
	}
	seen := make(map[string]bool)
	for i, group := range groups {
		if strings.TrimSpace(group) == "" {
			return fmt.Errorf("group at index %d has empty name", i)
		}
		if strings.ContainsAny(group, `/\`) || group == "." || group == ".." || strings.HasPrefix(group, ".") {
			return fmt.Errorf("group %q is not a valid directory name", group)
		}
		if seen[group] {
			return fmt.Errorf("duplicate group name: %s", group)
		}
		seen[group] = true
	}
	return nil
}

func validateExtensions(extensions []string) error {
	if len(extensions) == 0 {
		return fmt.Errorf("at least one allowed extension must be configured")
	}
	seen := make(map[string]bool)
	for i, ext := range extensions {
		if len(ext) < 2 || !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("extension at index %d must start with '.', got %q", i, ext)
		}
		lower := strings.ToLower(ext)
		if seen[lower] {
			return fmt.Errorf("duplicate extension: %s", ext)
		}
		seen[lower] = true
		extensions[i] = lower
	}
	return nil
}

// validateCommands ensures all command configurations have required fields
func validateCommands(commands []CommandConfig) error {
	seenNames := make(map[string]bool)

	for i, cmd := range commands {
		// Validate name is not empty
		if cmd.Name == "" {
			return fmt.Errorf("command at index %d has empty name", i)
		}

		// Validate name is unique
		if seenNames[cmd.Name] {
			return fmt.Errorf("duplicate command name: %s", cmd.Name)
		}
		seenNames[cmd.Name] = true

		if !commandstructure.DefaultRegistry.IsRegistered(cmd.Name) {
			return fmt.Errorf("unknown command: %s", cmd.Name)
		}
	}

	return nil
}

// CommandConfigs converts the YAML command list for the command invoker.
func (c *ServiceConfig) CommandConfigs() []commandstructure.CommandConfig {
	configs := make([]commandstructure.CommandConfig, 0, len(c.Reencode.Commands))
	for _, cmd := range c.Reencode.Commands {
		configs = append(configs, commandstructure.CommandConfig{Name: cmd.Name, Params: cmd.Params})
	}
	return configs
}
