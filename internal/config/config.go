package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	DefaultConfigPath     = "config.toml"
	DefaultEnvPath        = ".env"
	DefaultHTTPAddr       = "127.0.0.1:8080"
	DefaultBotName        = "Warden"
	DefaultPrefix         = "."
	DefaultDataFile       = "data/warden_state.json"
	DefaultBadgerDir      = "data/badger"
	DefaultBackupDir      = "data/backups"
	DefaultBroadcastDelay = 500
	DefaultRestartDelay   = 2000
	DefaultLinkPattern    = `(?i)https?://\S+`
)

type Config struct {
	Log        LogConfig        `toml:"log"`
	Bot        BotConfig        `toml:"bot"`
	Broadcast  BroadcastConfig  `toml:"broadcast"`
	Restart    RestartConfig    `toml:"restart"`
	Moderation ModerationConfig `toml:"moderation"`
	Storage    StorageConfig    `toml:"storage"`
	Channel    ChannelConfig    `toml:"channel"`
	Server     ServerConfig     `toml:"server"`
	Messages   MessagesConfig   `toml:"messages"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn warning error"`
	Format string `toml:"format" validate:"oneof=text json"`
}

type LinkConfig struct {
	Label string `toml:"label" validate:"required"`
	URL   string `toml:"url" validate:"required,url"`
}

type BotConfig struct {
	Name          string       `toml:"name" validate:"required"`
	Owner         string       `toml:"owner"`
	OwnerName     string       `toml:"owner_name"`
	Prefix        string       `toml:"prefix" validate:"required,min=1,max=2"`
	VersionLabel  string       `toml:"version_label"`
	GithubURL     string       `toml:"github_url" validate:"omitempty,url"`
	OwnerContact  []LinkConfig `toml:"owner_contact" validate:"dive"`
	DonationLinks []LinkConfig `toml:"donation_links" validate:"dive"`
}

type BroadcastConfig struct {
	DelayMs int `toml:"delay_ms" validate:"min=500"`
}

// Delay is the pause between two consecutive broadcast sends.
func (c BroadcastConfig) Delay() time.Duration {
	return time.Duration(c.DelayMs) * time.Millisecond
}

type RestartConfig struct {
	DelayMs int `toml:"delay_ms" validate:"min=0"`
}

func (c RestartConfig) Delay() time.Duration {
	return time.Duration(c.DelayMs) * time.Millisecond
}

type ModerationConfig struct {
	LinkPattern string `toml:"link_pattern"`
}

type StorageConfig struct {
	Backend     string `toml:"backend" validate:"oneof=file badger postgres"`
	FilePath    string `toml:"file_path" validate:"required_if=Backend file"`
	BadgerDir   string `toml:"badger_dir" validate:"required_if=Backend badger"`
	PostgresDSN string `toml:"postgres_dsn" validate:"required_if=Backend postgres"`
	BackupCron  string `toml:"backup_cron"`
	BackupDir   string `toml:"backup_dir"`
}

type ChannelConfig struct {
	Type          string `toml:"type" validate:"oneof=telegram discord local"`
	TelegramToken string `toml:"telegram_token" validate:"required_if=Type telegram"`
	DiscordToken  string `toml:"discord_token" validate:"required_if=Type discord"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type MessagesConfig struct {
	Path string `toml:"path"`
}

// envOverrides carries secrets that are usually kept out of the TOML file.
type envOverrides struct {
	Owner         string `env:"WARDEN_OWNER"`
	Prefix        string `env:"WARDEN_PREFIX"`
	TelegramToken string `env:"WARDEN_TELEGRAM_TOKEN"`
	DiscordToken  string `env:"WARDEN_DISCORD_TOKEN"`
	PostgresDSN   string `env:"WARDEN_POSTGRES_DSN"`
	ChannelType   string `env:"WARDEN_CHANNEL"`
}

var validate = validator.New()

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Bot: BotConfig{
			Name:   DefaultBotName,
			Prefix: DefaultPrefix,
		},
		Broadcast: BroadcastConfig{
			DelayMs: DefaultBroadcastDelay,
		},
		Restart: RestartConfig{
			DelayMs: DefaultRestartDelay,
		},
		Moderation: ModerationConfig{
			LinkPattern: DefaultLinkPattern,
		},
		Storage: StorageConfig{
			Backend:   "file",
			FilePath:  DefaultDataFile,
			BadgerDir: DefaultBadgerDir,
			BackupDir: DefaultBackupDir,
		},
		Channel: ChannelConfig{
			Type: "local",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
	}
}

// Load reads the TOML file at path on top of the defaults, applies environment
// overrides (optionally seeded from a .env file) and validates the result.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field constraints declared on the config structs.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if err := godotenv.Load(DefaultEnvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", DefaultEnvPath, err)
	}
	var overrides envOverrides
	if _, err := env.UnmarshalFromEnviron(&overrides); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	if overrides.Owner != "" {
		cfg.Bot.Owner = overrides.Owner
	}
	if overrides.Prefix != "" {
		cfg.Bot.Prefix = overrides.Prefix
	}
	if overrides.TelegramToken != "" {
		cfg.Channel.TelegramToken = overrides.TelegramToken
	}
	if overrides.DiscordToken != "" {
		cfg.Channel.DiscordToken = overrides.DiscordToken
	}
	if overrides.PostgresDSN != "" {
		cfg.Storage.PostgresDSN = overrides.PostgresDSN
	}
	if overrides.ChannelType != "" {
		cfg.Channel.Type = overrides.ChannelType
	}
	return nil
}
