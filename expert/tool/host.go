package tool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/contract"
)

const (
	hostProtocolVersion = "2024-11-05"
	hostClientName      = "counsel-expert-council"
	hostClientVersion   = "1.0.0"

	defaultHostCallTimeout = 60 * time.Second
	hostScanBufferBytes    = 10 * 1024 * 1024
)

// HostServerConfig describes one MCP server subprocess the bridge may launch.
type HostServerConfig struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`
}

// ParseHostServers decodes the HOST_SERVERS env payload, a JSON array of
// server configs. An empty payload means no host bridge.
func ParseHostServers(raw string) ([]HostServerConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var configs []HostServerConfig
	if err := json.Unmarshal([]byte(raw), &configs); err != nil {
		return nil, fmt.Errorf("%w: host servers payload is not valid JSON: %v", contractx.ErrValidation, err)
	}
	for _, cfg := range configs {
		if strings.TrimSpace(cfg.Name) == "" || strings.TrimSpace(cfg.Command) == "" {
			return nil, fmt.Errorf("%w: host server entries need name and command", contractx.ErrValidation)
		}
	}
	return configs, nil
}

// StdioBridge speaks line-delimited JSON-RPC 2.0 to host MCP servers over
// their stdio. Subprocesses start lazily on first call and are redialed once
// if found dead.
type StdioBridge struct {
	mu      sync.Mutex
	configs map[string]HostServerConfig
	conns   map[string]*hostConn
	timeout time.Duration
	logger  zerolog.Logger
}

var _ contractx.HostBridge = (*StdioBridge)(nil)

func NewStdioBridge(servers []HostServerConfig, timeout time.Duration, logger zerolog.Logger) *StdioBridge {
	if timeout <= 0 {
		timeout = defaultHostCallTimeout
	}
	configs := make(map[string]HostServerConfig, len(servers))
	for _, cfg := range servers {
		configs[cfg.Name] = cfg
	}
	return &StdioBridge{
		configs: configs,
		conns:   make(map[string]*hostConn, len(servers)),
		timeout: timeout,
		logger:  logger,
	}
}

// ServerNames returns the configured server names.
func (b *StdioBridge) ServerNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.configs))
	for name := range b.configs {
		names = append(names, name)
	}
	return names
}

func (b *StdioBridge) CallTool(ctx context.Context, server, tool string, args map[string]any) (string, error) {
	conn, err := b.conn(ctx, server)
	if err != nil {
		return "", err
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	params := map[string]any{"name": tool}
	if len(args) > 0 {
		params["arguments"] = args
	}
	raw, err := conn.call(ctx, "tools/call", params)
	if err != nil {
		b.drop(server, conn)
		return "", err
	}

	text, err := parseToolCallResult(raw)
	if err != nil {
		return "", fmt.Errorf("host server %s: %w", server, err)
	}
	return text, nil
}

// parseToolCallResult extracts the text content of a tools/call result and
// turns isError payloads into Go errors.
func parseToolCallResult(raw json.RawMessage) (string, error) {
	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content"`
		IsError bool `json:"isError,omitempty"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("malformed tool result: %w", err)
	}

	var parts []string
	for _, c := range result.Content {
		if c.Type == "text" && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if result.IsError {
		if text == "" {
			text = "host tool reported an error"
		}
		return "", fmt.Errorf("%s", text)
	}
	return text, nil
}

// Close terminates every running server subprocess.
func (b *StdioBridge) Close() {
	b.mu.Lock()
	conns := make([]*hostConn, 0, len(b.conns))
	for _, c := range b.conns {
		conns = append(conns, c)
	}
	b.conns = make(map[string]*hostConn)
	b.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

func (b *StdioBridge) conn(ctx context.Context, server string) (*hostConn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cfg, ok := b.configs[server]
	if !ok {
		return nil, fmt.Errorf("%w: host server %q is not configured", contractx.ErrToolUnavailable, server)
	}

	if conn, ok := b.conns[server]; ok {
		if conn.alive() {
			return conn, nil
		}
		delete(b.conns, server)
		conn.close()
	}

	conn, err := dialHost(ctx, cfg, b.timeout, b.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: host server %q failed to start: %v", contractx.ErrToolUnavailable, server, err)
	}
	b.conns[server] = conn
	return conn, nil
}

func (b *StdioBridge) drop(server string, conn *hostConn) {
	if conn.alive() {
		return
	}
	b.mu.Lock()
	if b.conns[server] == conn {
		delete(b.conns, server)
	}
	b.mu.Unlock()
	conn.close()
}

/* ------------------------------- connection ------------------------------ */

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcErrorBody   `json:"error,omitempty"`
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type hostConn struct {
	name  string
	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan rpcResponse

	done    chan struct{}
	closing sync.Once
}

func dialHost(ctx context.Context, cfg HostServerConfig, timeout time.Duration, logger zerolog.Logger) (*hostConn, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	conn := &hostConn{
		name:    cfg.Name,
		cmd:     cmd,
		stdin:   stdin,
		pending: make(map[int64]chan rpcResponse, 4),
		done:    make(chan struct{}),
	}

	go conn.readLoop(stdout)
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Debug().Str("host_server", cfg.Name).Msg(scanner.Text())
		}
	}()

	initCtx := ctx
	if _, hasDeadline := initCtx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	initParams := map[string]any{
		"protocolVersion": hostProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    hostClientName,
			"version": hostClientVersion,
		},
	}
	if _, err := conn.call(initCtx, "initialize", initParams); err != nil {
		conn.close()
		return nil, fmt.Errorf("initialize handshake failed: %w", err)
	}
	if err := conn.notify("notifications/initialized", nil); err != nil {
		conn.close()
		return nil, fmt.Errorf("initialized notification failed: %w", err)
	}
	return conn, nil
}

func (c *hostConn) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), hostScanBufferBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil || resp.ID == nil {
			// Server notifications and junk lines are skipped.
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[*resp.ID]
		delete(c.pending, *resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}

	close(c.done)
	c.mu.Lock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	c.mu.Unlock()
	_ = c.cmd.Wait()
}

func (c *hostConn) alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *hostConn) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan rpcResponse, 1)
	c.pending[id] = ch
	err := c.write(rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params})
	if err != nil {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("host server %s closed the connection", c.name)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("host server %s error %d: %s", c.name, resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-c.done:
		c.forget(id)
		return nil, fmt.Errorf("host server %s exited", c.name)
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *hostConn) notify(method string, params any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
}

// write assumes c.mu is held.
func (c *hostConn) write(req rpcRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	_, err = c.stdin.Write(payload)
	return err
}

func (c *hostConn) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *hostConn) close() {
	c.closing.Do(func() {
		_ = c.stdin.Close()
		if c.cmd.Process != nil {
			// Give the server a moment to exit on closed stdin before killing.
			waited := make(chan struct{})
			go func() {
				select {
				case <-c.done:
				case <-time.After(2 * time.Second):
					_ = c.cmd.Process.Kill()
				}
				close(waited)
			}()
			<-waited
		}
	})
}
