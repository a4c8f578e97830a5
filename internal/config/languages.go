package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// LanguageServer is a server command. Env entries are added to the
// process environment.
type LanguageServer struct {
	Command string            `toml:"command"`
	Args    []string          `toml:"args"`
	Env     map[string]string `toml:"environment"`
}

type Language struct {
	Name            string   `toml:"name"`
	FileTypes       []string `toml:"file-types"`
	Roots           []string `toml:"roots"`
	LanguageServers []string `toml:"language-servers"`
}

// Languages is the contents of languages.toml.
type Languages struct {
	Languages       []Language               `toml:"language"`
	LanguageServers map[string]LanguageServer `toml:"language-server"`
}

// Match returns the language whose file types cover path by extension or by
// exact file name.
func (l Languages) Match(path string) *Language {
	base := filepath.Base(path)
	baseLower := strings.ToLower(base)
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(base), "."))
	for i := range l.Languages {
		lang := &l.Languages[i]
		for _, ft := range lang.FileTypes {
			ftLower := strings.ToLower(ft)
			if ftLower == ext || ftLower == baseLower {
				return lang
			}
			if strings.HasPrefix(ftLower, ".") && strings.TrimPrefix(ftLower, ".") == ext {
				return lang
			}
		}
	}
	return nil
}

// ServerFor picks the first language server of path's language that has a
// command configured.
func (l Languages) ServerFor(path string) (*Language, string, LanguageServer, bool) {
	lang := l.Match(path)
	if lang == nil {
		return nil, "", LanguageServer{}, false
	}
	for _, name := range lang.LanguageServers {
		if srv, ok := l.LanguageServers[name]; ok && srv.Command != "" {
			return lang, name, srv, true
		}
	}
	return lang, "", LanguageServer{}, false
}

func LoadLanguages() (Languages, error) {
	path, err := LanguagesPath()
	if err != nil {
		return Languages{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Languages{}, nil
		}
		return Languages{}, err
	}

	var cfg Languages
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Languages{}, err
	}
	if cfg.LanguageServers == nil {
		cfg.LanguageServers = map[string]LanguageServer{}
	}
	return cfg, nil
}

func LanguagesPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "languages.toml"), nil
}
