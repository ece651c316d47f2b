package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nugget/wfm-assistant/internal/buildinfo"
)

// State is the lifecycle state of a Channel.
type State int

// Channel states. Closed is terminal.
const (
	StateUninitialized State = iota
	StateConnecting
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Channel errors.
var (
	ErrNotReady           = errors.New("mcp channel not ready")
	ErrAlreadyInitialized = errors.New("mcp channel already initialized")
	ErrClosed             = errors.New("mcp channel closed")
)

// Dialer produces the transport Initialize connects over. Tests supply
// in-memory transports; production uses CommandDialer.
type Dialer func(ctx context.Context) (mcpsdk.Transport, error)

// ChannelConfig configures a Channel.
type ChannelConfig struct {
	Command          string
	Args             []string
	Env              map[string]string
	ConnectionString string
	ClientID         string
	ClientSecret     string

	// InitTimeout bounds spawn, handshake and tool discovery together.
	InitTimeout time.Duration
	// CallTimeout bounds each tool call.
	CallTimeout time.Duration

	// Dialer overrides the subprocess transport when set.
	Dialer Dialer
}

// Channel is the connection to the MCP server process.
type Channel struct {
	cfg      ChannelConfig
	dial     Dialer
	logger   *slog.Logger
	registry *Registry

	mu      sync.Mutex // guards state and session
	state   State
	session *mcpsdk.ClientSession

	// callMu serializes tool calls; the server handles one request at
	// a time over stdio.
	callMu sync.Mutex
}

// New creates a Channel in the Uninitialized state. Nothing is spawned
// until Initialize.
func New(cfg ChannelConfig, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Command == "" {
		cfg.Command = "npx"
	}
	c := &Channel{
		cfg:      cfg,
		logger:   logger.With("component", "mcp"),
		registry: NewRegistry(),
	}
	c.dial = cfg.Dialer
	if c.dial == nil {
		c.dial = CommandDialer(cfg)
	}
	return c
}

// CommandDialer returns a Dialer that launches the configured command
// as a stdio subprocess:
//
//	npx -y mongodb-mcp-server --connectionString <uri> [--apiClientId X --apiClientSecret Y]
func CommandDialer(cfg ChannelConfig) Dialer {
	return func(ctx context.Context) (mcpsdk.Transport, error) {
		if cfg.ConnectionString == "" {
			return nil, errors.New("connection string is required")
		}
		cmd := exec.Command(cfg.Command, CommandArgs(cfg)...)
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		return &mcpsdk.CommandTransport{Command: cmd}, nil
	}
}

// CommandArgs returns the argument list passed to the server command.
func CommandArgs(cfg ChannelConfig) []string {
	args := append([]string(nil), cfg.Args...)
	if len(args) == 0 {
		args = []string{"-y", "mongodb-mcp-server"}
	}
	args = append(args, "--connectionString", cfg.ConnectionString)
	if cfg.ClientID != "" && cfg.ClientSecret != "" {
		args = append(args, "--apiClientId", cfg.ClientID, "--apiClientSecret", cfg.ClientSecret)
	}
	return args
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ready reports whether tools may be invoked. It makes no remote call.
func (c *Channel) Ready() bool {
	return c.State() == StateReady
}

// Registry returns the capability registry filled by LoadCapabilities.
func (c *Channel) Registry() *Registry {
	return c.registry
}

// Capabilities returns the current tool list in server order.
func (c *Channel) Capabilities() []Capability {
	return c.registry.List()
}

// Initialize spawns the server, performs the handshake and loads the
// tool list. On any failure every resource acquired so far is released
// and the channel returns to Uninitialized.
func (c *Channel) Initialize(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return ErrClosed
	case StateUninitialized:
	default:
		c.mu.Unlock()
		return ErrAlreadyInitialized
	}
	c.state = StateConnecting
	c.mu.Unlock()

	if c.cfg.InitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.InitTimeout)
		defer cancel()
	}

	start := time.Now()
	c.logger.Info("connecting to MCP server", "command", c.cfg.Command)

	session, err := c.connect(ctx)
	if err != nil {
		c.resetAfterFailure(nil)
		c.logger.Error("MCP connection failed", "error", err, "elapsed", time.Since(start))
		return fmt.Errorf("connect: %w", err)
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		// Shutdown raced with the handshake.
		c.mu.Unlock()
		_ = session.Close()
		return ErrClosed
	}
	c.session = session
	c.mu.Unlock()

	if err := c.LoadCapabilities(ctx); err != nil {
		c.resetAfterFailure(session)
		c.logger.Error("MCP tool discovery failed", "error", err, "elapsed", time.Since(start))
		return fmt.Errorf("load capabilities: %w", err)
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state = StateReady
	c.mu.Unlock()

	go c.watch(session)

	c.logger.Info("MCP channel ready",
		"tools", c.registry.Len(),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

func (c *Channel) connect(ctx context.Context) (*mcpsdk.ClientSession, error) {
	transport, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}
	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    "wfm-assistant",
		Version: buildinfo.Version,
	}, nil)
	return client.Connect(ctx, transport, nil)
}

// resetAfterFailure closes a partially established session and moves
// Connecting back to Uninitialized.
func (c *Channel) resetAfterFailure(session *mcpsdk.ClientSession) {
	if session != nil {
		if err := session.Close(); err != nil {
			c.logger.Debug("closing failed MCP session", "error", err)
		}
	}
	c.registry.clear()

	c.mu.Lock()
	if c.session == session {
		c.session = nil
	}
	if c.state == StateConnecting {
		c.state = StateUninitialized
	}
	c.mu.Unlock()
}

// watch marks the channel Closed if the server connection drops while
// Ready, so later calls fail fast as not ready.
func (c *Channel) watch(session *mcpsdk.ClientSession) {
	err := session.Wait()

	c.mu.Lock()
	if c.session != session || c.state != StateReady {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	c.session = nil
	c.mu.Unlock()

	c.registry.clear()
	c.logger.Error("MCP server connection lost", "error", err)
}

// LoadCapabilities queries the server's tool list and replaces the
// registry contents. It fails with ErrNotReady when no session exists.
func (c *Channel) LoadCapabilities(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return ErrNotReady
	}

	var caps []Capability
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			return fmt.Errorf("tools/list: %w", err)
		}
		caps = append(caps, Capability{
			Name:        tool.Name,
			Description: tool.Description,
			Schema:      schemaMap(tool.InputSchema),
		})
	}
	c.registry.replace(caps)

	c.logger.Debug("discovered MCP tools", "count", len(caps), "names", c.registry.Names())
	return nil
}

// schemaMap converts an SDK input schema into a plain JSON object.
func schemaMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// Invoke calls a tool. It never panics and never returns an error: a
// channel that is not Ready yields a not_ready failure without any
// remote call, and every other problem is folded into the result.
func (c *Channel) Invoke(ctx context.Context, name string, args map[string]any) ToolCallResult {
	c.mu.Lock()
	state, session := c.state, c.session
	c.mu.Unlock()
	if state != StateReady || session == nil {
		return Fail(name, FailureNotReady, fmt.Sprintf("%v (state %s)", ErrNotReady, state))
	}

	c.callMu.Lock()
	defer c.callMu.Unlock()

	callCtx := ctx
	if c.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
	}

	if args == nil {
		args = map[string]any{}
	}

	start := time.Now()
	res, err := session.CallTool(callCtx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	elapsed := time.Since(start).Round(time.Millisecond)

	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			c.logger.Warn("MCP tool call timed out", "tool", name, "timeout", c.cfg.CallTimeout)
			return Fail(name, FailureTimeout, fmt.Sprintf("tool %s timed out after %s", name, c.cfg.CallTimeout))
		}
		c.logger.Warn("MCP tool call failed", "tool", name, "error", err, "elapsed", elapsed)
		return Fail(name, FailureRemote, err.Error())
	}

	payload := decodeResult(res)
	if res.IsError {
		msg := Flatten(payload)
		if msg == "" {
			msg = "tool reported an error"
		}
		c.logger.Debug("MCP tool returned error", "tool", name, "elapsed", elapsed)
		return ToolCallResult{
			ToolName: name,
			Payload:  payload,
			Failure:  &Failure{Kind: FailureRemote, Message: msg},
		}
	}

	c.logger.Debug("MCP tool call complete", "tool", name, "elapsed", elapsed, "items", len(payload))
	return ToolCallResult{ToolName: name, Payload: payload}
}

// Shutdown closes the session, terminating the server process, and
// moves the channel to Closed. It is idempotent and safe to call in any
// state, including before Initialize.
func (c *Channel) Shutdown() error {
	c.mu.Lock()
	if c.state == StateClosed && c.session == nil {
		c.mu.Unlock()
		return nil
	}
	session := c.session
	c.session = nil
	c.state = StateClosed
	c.mu.Unlock()

	c.registry.clear()
	if session == nil {
		return nil
	}

	c.logger.Info("shutting down MCP channel")
	if err := session.Close(); err != nil {
		return fmt.Errorf("close MCP session: %w", err)
	}
	return nil
}
