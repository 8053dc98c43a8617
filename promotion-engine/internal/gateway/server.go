package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/intakecalc/platform/promotion-engine/internal/destination"
)

// Backend executes gateway calls against the relational store. Errors
// returned here are reported to callers as tool errors, i.e. rejections.
type Backend interface {
	InsertOne(ctx context.Context, table string, record destination.Record) (string, error)
	InsertBatch(ctx context.Context, table string, records []destination.Record) (int, error)
	Query(ctx context.Context, st destination.Statement, params []any) ([]destination.Record, error)
	Ping(ctx context.Context) error
}

type ServerConfig struct {
	Backend Backend
	// Secret enables HS256 token verification when non-empty.
	Secret  []byte
	Logger  *log.Logger
	Version string
	// ReplayWindow is how many recent insert replies are kept for replays of
	// the same unique_id. Defaults to 1024.
	ReplayWindow int
}

type toolServer struct {
	backend Backend
	secret  []byte
	logger  *log.Logger
	replays *replayCache
}

// NewServer builds the MCP server exposing the gateway tools.
func NewServer(cfg ServerConfig) *server.MCPServer {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[gateway.server] ", log.LstdFlags)
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.ReplayWindow <= 0 {
		cfg.ReplayWindow = 1024
	}
	ts := &toolServer{
		backend: cfg.Backend,
		secret:  cfg.Secret,
		logger:  cfg.Logger,
		replays: newReplayCache(cfg.ReplayWindow),
	}

	s := server.NewMCPServer("destination-gateway", cfg.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	for _, name := range []string{ToolInsertOne, ToolInsertBatch, ToolQuery, ToolHealth} {
		s.AddTool(toolDefinition(name), ts.handler(name))
	}
	return s
}

func toolDefinition(name string) mcp.Tool {
	desc := map[string]string{
		ToolInsertOne:   "Insert one record into a destination table.",
		ToolInsertBatch: "Insert records into a destination table in one transaction.",
		ToolQuery:       "Run a restricted SELECT or DELETE statement with positional parameters.",
		ToolHealth:      "Report whether the relational store is reachable.",
	}[name]
	return mcp.NewTool(name,
		mcp.WithDescription(desc),
		mcp.WithString("tool", mcp.Required(), mcp.Description("Tool name, repeated for envelope validation")),
		mcp.WithObject("data", mcp.Description("Tool specific payload")),
		mcp.WithString("unique_id", mcp.Required(), mcp.Description("Caller generated call id")),
		mcp.WithString("process_id", mcp.Required(), mcp.Description("Caller generated attempt id")),
		mcp.WithString("token", mcp.Description("HS256 service token")),
	)
}

func (ts *toolServer) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		env, err := decodeEnvelope(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if env.Tool != name {
			return mcp.NewToolResultError(fmt.Sprintf("envelope tool %q does not match %q", env.Tool, name)), nil
		}
		if len(ts.secret) > 0 {
			if err := verifyToken(ts.secret, env.Token); err != nil {
				ts.logger.Printf("reject %s %s from %s: %v", name, env.UniqueID, env.ProcessID, err)
				return mcp.NewToolResultError(err.Error()), nil
			}
		}
		if name != ToolInsertOne && name != ToolInsertBatch {
			return ts.execute(ctx, name, env)
		}

		cached, done, err := ts.replays.acquire(ctx, env.UniqueID)
		if err != nil {
			return nil, err
		}
		if done {
			return mcp.NewToolResultText(cached), nil
		}
		res, err := ts.execute(ctx, name, env)
		if err != nil || res.IsError {
			ts.replays.release(env.UniqueID, "", false)
		} else {
			ts.replays.release(env.UniqueID, resultText(res), true)
		}
		return res, err
	}
}

func (ts *toolServer) execute(ctx context.Context, name string, env Envelope) (*mcp.CallToolResult, error) {
	reply, err := ts.dispatch(ctx, name, env.Data)
	if err != nil {
		ts.logger.Printf("%s %s (process %s): %v", name, env.UniqueID, env.ProcessID, err)
		return mcp.NewToolResultError(err.Error()), nil
	}
	body, err := json.Marshal(reply)
	if err != nil {
		return nil, fmt.Errorf("encode %s reply: %w", name, err)
	}
	return mcp.NewToolResultText(string(body)), nil
}

func (ts *toolServer) dispatch(ctx context.Context, name string, data json.RawMessage) (any, error) {
	switch name {
	case ToolInsertOne:
		var in insertOneData
		if err := decodeData(data, &in); err != nil {
			return nil, err
		}
		if !destination.KnownTable(in.Table) {
			return nil, fmt.Errorf("unknown table %q", in.Table)
		}
		id, err := ts.backend.InsertOne(ctx, in.Table, in.Record)
		if err != nil {
			return nil, err
		}
		return insertOneReply{GeneratedID: id}, nil
	case ToolInsertBatch:
		var in insertBatchData
		if err := decodeData(data, &in); err != nil {
			return nil, err
		}
		if !destination.KnownTable(in.Table) {
			return nil, fmt.Errorf("unknown table %q", in.Table)
		}
		n, err := ts.backend.InsertBatch(ctx, in.Table, in.Records)
		if err != nil {
			return nil, err
		}
		return insertBatchReply{Count: n}, nil
	case ToolQuery:
		var in queryData
		if err := decodeData(data, &in); err != nil {
			return nil, err
		}
		st, err := destination.ParseStatement(in.Query)
		if err != nil {
			return nil, err
		}
		if len(in.Params) != len(st.Where) {
			return nil, fmt.Errorf("expected %d params, got %d", len(st.Where), len(in.Params))
		}
		rows, err := ts.backend.Query(ctx, st, in.Params)
		if err != nil {
			return nil, err
		}
		if rows == nil {
			rows = []destination.Record{}
		}
		return queryReply{Rows: rows}, nil
	case ToolHealth:
		return healthReply{Healthy: ts.backend.Ping(ctx) == nil}, nil
	}
	return nil, fmt.Errorf("unknown tool %q", name)
}

func decodeEnvelope(args map[string]any) (Envelope, error) {
	var env Envelope
	raw, err := json.Marshal(args)
	if err != nil {
		return env, fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if env.UniqueID == "" || env.ProcessID == "" {
		return env, errors.New("envelope requires unique_id and process_id")
	}
	return env, nil
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errors.New("envelope data is empty")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

// replayCache remembers the reply of recent insert calls keyed by unique_id
// so a retried call does not write twice. An id is reserved while its first
// call runs; concurrent calls with the same id wait for that call.
type replayCache struct {
	mu    sync.Mutex
	max   int
	order []string
	items map[string]*replayEntry
}

type replayEntry struct {
	done  chan struct{}
	reply string
	ok    bool
}

func newReplayCache(max int) *replayCache {
	return &replayCache{max: max, items: map[string]*replayEntry{}}
}

// acquire returns the stored reply for id with done set, or reserves id for
// the caller, who must then call release.
func (c *replayCache) acquire(ctx context.Context, id string) (reply string, done bool, err error) {
	for {
		c.mu.Lock()
		e, ok := c.items[id]
		if !ok {
			c.items[id] = &replayEntry{done: make(chan struct{})}
			c.mu.Unlock()
			return "", false, nil
		}
		c.mu.Unlock()

		select {
		case <-e.done:
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
		if e.ok {
			return e.reply, true, nil
		}
		// The holder failed and dropped its reservation.
	}
}

// release settles a reservation. Only successful replies are kept.
func (c *replayCache) release(id, reply string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.items[id]
	if !found {
		return
	}
	e.reply, e.ok = reply, ok
	if ok {
		c.order = append(c.order, id)
		if len(c.order) > c.max {
			delete(c.items, c.order[0])
			c.order = c.order[1:]
		}
	} else {
		delete(c.items, id)
	}
	close(e.done)
}
