package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

type LogOptions struct {
	Debug bool `toml:"debug"`
}

type ProjectOptions struct {
	// Watch reloads buffers when their files change on disk.
	Watch bool `toml:"watch"`
	// Git reconciles reviewed edits with commits to the repository.
	Git bool `toml:"git"`
	// LSP registers tracked buffers with the configured language servers.
	LSP    bool     `toml:"lsp"`
	Ignore []string `toml:"ignore"`
}

type ReviewOptions struct {
	DiffContext int `toml:"diff-context"`
}

type Config struct {
	Log     LogOptions     `toml:"log"`
	Project ProjectOptions `toml:"project"`
	Review  ReviewOptions  `toml:"review"`
}

func Default() Config {
	return Config{
		Project: ProjectOptions{
			Watch:  true,
			Git:    true,
			Ignore: []string{".git", "node_modules", "target"},
		},
		Review: ReviewOptions{
			DiffContext: 3,
		},
	}
}

func Load() (Config, error) {
	cfg := Default()
	path, err := ConfigPath()
	if err != nil {
		return cfg, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	var userCfg Config
	md, err := toml.Decode(string(data), &userCfg)
	if err != nil {
		return cfg, err
	}

	// Booleans default to true, so only explicitly set keys override them.
	if md.IsDefined("log", "debug") {
		cfg.Log.Debug = userCfg.Log.Debug
	}
	if md.IsDefined("project", "watch") {
		cfg.Project.Watch = userCfg.Project.Watch
	}
	if md.IsDefined("project", "git") {
		cfg.Project.Git = userCfg.Project.Git
	}
	if md.IsDefined("project", "lsp") {
		cfg.Project.LSP = userCfg.Project.LSP
	}
	if md.IsDefined("project", "ignore") {
		cfg.Project.Ignore = userCfg.Project.Ignore
	}
	if userCfg.Review.DiffContext > 0 {
		cfg.Review.DiffContext = userCfg.Review.DiffContext
	} else if md.IsDefined("review", "diff-context") {
		cfg.Review.DiffContext = 0
	}

	return cfg, nil
}

func ConfigDir() (string, error) {
	if v := os.Getenv("ACTIONLOG_CONFIG_HOME"); v != "" {
		return filepath.Join(v), nil
	}
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "actionlog"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "actionlog"), nil
}

func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}
