package lsp

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

type server struct {
	name    string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	reader  *bufio.Reader
	rootURI string
	events  chan Event

	// mu is held while notifying about documents; writeMu only guards
	// framing on stdin.
	mu          sync.Mutex
	writeMu     sync.Mutex
	nextID      int
	initID      int
	initialized bool
	pendingOpen []openRequest
	// docs counts the handles held per document URI.
	docs map[string]int
}

type openRequest struct {
	uri        string
	languageID string
	text       string
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type initializeParams struct {
	ProcessID    int               `json:"processId"`
	RootURI      string            `json:"rootUri"`
	Capabilities map[string]any    `json:"capabilities"`
	ClientInfo   map[string]string `json:"clientInfo"`
}

type textDocumentItem struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int    `json:"version"`
	Text       string `json:"text"`
}

type textDocumentIdentifier struct {
	URI string `json:"uri"`
}

type didOpenParams struct {
	TextDocument textDocumentItem `json:"textDocument"`
}

type didCloseParams struct {
	TextDocument textDocumentIdentifier `json:"textDocument"`
}

func (s *server) initialize() error {
	params := initializeParams{
		ProcessID:    os.Getpid(),
		RootURI:      s.rootURI,
		Capabilities: map[string]any{},
		ClientInfo:   map[string]string{"name": "actionlog"},
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.initID = id
	s.mu.Unlock()

	return s.send(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "initialize",
		Params:  params,
	})
}

// open takes a reference on uri, sending didOpen for the first one.
func (s *server) open(uri, languageID, text string) {
	s.mu.Lock()
	s.docs[uri]++
	if s.docs[uri] > 1 {
		s.mu.Unlock()
		return
	}
	defer s.mu.Unlock()
	req := openRequest{uri: uri, languageID: languageID, text: text}
	if !s.initialized {
		s.pendingOpen = append(s.pendingOpen, req)
		return
	}
	s.didOpen(req)
}

// release drops a reference on uri, sending didClose for the last one.
func (s *server) release(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.docs[uri]
	if !ok {
		return
	}
	if n > 1 {
		s.docs[uri] = n - 1
		return
	}
	delete(s.docs, uri)
	for i, req := range s.pendingOpen {
		if req.uri == uri {
			s.pendingOpen = append(s.pendingOpen[:i], s.pendingOpen[i+1:]...)
			return
		}
	}
	_ = s.sendNotification("textDocument/didClose", didCloseParams{
		TextDocument: textDocumentIdentifier{URI: uri},
	})
}

// didOpen is called with s.mu held so that opens and closes reach the
// server in order.
func (s *server) didOpen(req openRequest) {
	_ = s.sendNotification("textDocument/didOpen", didOpenParams{
		TextDocument: textDocumentItem{
			URI:        req.uri,
			LanguageID: req.languageID,
			Version:    1,
			Text:       req.text,
		},
	})
}

func (s *server) readLoop() {
	for {
		msg, err := readMessage(s.reader)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.sendEvent("error", err.Error())
			}
			return
		}
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(msg, &envelope); err != nil {
			continue
		}
		if idRaw, ok := envelope["id"]; ok {
			var id int
			if err := json.Unmarshal(idRaw, &id); err == nil {
				s.handleResponse(id)
			}
		}
	}
}

func (s *server) handleResponse(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != s.initID || s.initialized {
		return
	}
	s.initialized = true
	_ = s.sendNotification("initialized", map[string]any{})
	for _, req := range s.pendingOpen {
		s.didOpen(req)
	}
	s.pendingOpen = nil
}

func (s *server) sendNotification(method string, params any) error {
	return s.send(rpcNotification{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	})
}

func (s *server) send(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(payload))
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := io.WriteString(s.stdin, header); err != nil {
		return err
	}
	_, err = s.stdin.Write(payload)
	return err
}

func (s *server) sendEvent(kind, msg string) {
	select {
	case s.events <- Event{Kind: kind, Message: msg}:
	default:
	}
}

func (s *server) stop() {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	_ = s.cmd.Process.Kill()
	_, _ = s.cmd.Process.Wait()
}

func readMessage(r *bufio.Reader) ([]byte, error) {
	length := -1
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.ToLower(strings.TrimSpace(parts[0])) == "content-length" {
			val := strings.TrimSpace(parts[1])
			if n, err := strconv.Atoi(val); err == nil {
				length = n
			}
		}
	}
	if length < 0 {
		return nil, errors.New("missing content-length")
	}
	buf := make([]byte, length)
	_, err := io.ReadFull(r, buf)
	return buf, err
}
