package lsp

import (
	"bufio"
	"io"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/kobzarvs/actionlog/internal/config"
	"github.com/kobzarvs/actionlog/internal/logger"
)

type Event struct {
	Kind    string
	Message string
}

// Manager starts language servers on demand and keeps the documents the
// action log is tracking open in them.
type Manager struct {
	langs   config.Languages
	servers map[string]*server
	events  chan Event
	mu      sync.Mutex
}

func NewManager(langs config.Languages) *Manager {
	return &Manager{
		langs:   langs,
		servers: make(map[string]*server),
		events:  make(chan Event, 32),
	}
}

func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, srv := range m.servers {
		srv.stop()
		delete(m.servers, name)
	}
	return nil
}

func (m *Manager) Events() <-chan Event {
	return m.events
}

// Handle keeps a document open in its language server until released.
type Handle struct {
	srv  *server
	uri  string
	once sync.Once
}

// Release closes the document once every handle for it is released. It is
// safe to call on a nil handle and more than once.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.once.Do(func() { h.srv.release(h.uri) })
}

// Register opens path in its language server. It returns nil when no server
// is configured for the file type.
func (m *Manager) Register(path, text string) *Handle {
	if path == "" {
		return nil
	}
	lang, serverName, serverCfg, ok := m.langs.ServerFor(path)
	if !ok {
		return nil
	}

	root := findRoot(path, lang.Roots)
	srv, err := m.getServer(serverName, serverCfg, root)
	if err != nil {
		logger.Warn("failed to start language server", "server", serverName, "error", err)
		m.sendEvent("error", err.Error())
		return nil
	}
	uri := fileURI(path)
	srv.open(uri, lang.Name, text)
	return &Handle{srv: srv, uri: uri}
}

func (m *Manager) getServer(name string, cfg config.LanguageServer, root string) (*server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if srv, ok := m.servers[name]; ok {
		return srv, nil
	}
	if root == "" {
		root = "."
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	if len(cfg.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	srv := &server{
		name:    name,
		cmd:     cmd,
		stdin:   stdin,
		reader:  bufio.NewReader(stdout),
		rootURI: fileURI(root),
		events:  m.events,
		docs:    make(map[string]int),
		initID:  -1,
	}
	m.servers[name] = srv
	go srv.readLoop()
	if err := srv.initialize(); err != nil {
		return srv, err
	}
	logger.Info("language server started", "server", name, "root", root)
	return srv, nil
}

func (m *Manager) sendEvent(kind, msg string) {
	select {
	case m.events <- Event{Kind: kind, Message: msg}:
	default:
	}
}

func findRoot(path string, markers []string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Dir(path)
	}
	dir := filepath.Dir(abs)
	if len(markers) == 0 {
		return dir
	}
	for {
		for _, marker := range markers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return filepath.Dir(abs)
}

func fileURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String()
}
