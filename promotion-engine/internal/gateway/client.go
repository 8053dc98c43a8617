package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/intakecalc/platform/promotion-engine/internal/destination"
)

type ClientConfig struct {
	// URL of the gateway's streamable HTTP endpoint, e.g. http://gw:8090/mcp.
	URL string
	// ProcessID tags every envelope. Defaults to a fresh uuid.
	ProcessID string
	Secret    []byte
	TokenTTL  time.Duration
	// CallTimeout bounds each tool call. Defaults to 15s.
	CallTimeout time.Duration
	Logger      *log.Logger
}

// Client implements destination.Client over MCP tool calls. Each call is a
// single attempt.
type Client struct {
	mcp       *mcpclient.Client
	processID string
	secret    []byte
	ttl       time.Duration
	timeout   time.Duration
	logger    *log.Logger
}

var _ destination.Client = (*Client)(nil)

// Dial connects to a remote gateway over streamable HTTP.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("gateway url required")
	}
	c, err := mcpclient.NewStreamableHttpClient(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("create gateway client: %w", err)
	}
	return NewClient(ctx, c, cfg)
}

// NewClient starts and initializes an existing MCP client, which may be an
// in-process one.
func NewClient(ctx context.Context, c *mcpclient.Client, cfg ClientConfig) (*Client, error) {
	if cfg.ProcessID == "" {
		cfg.ProcessID = uuid.NewString()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 5 * time.Minute
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[gateway.client] ", log.LstdFlags)
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("start gateway client: %w", err)
	}
	init := mcp.InitializeRequest{}
	init.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	init.Params.ClientInfo = mcp.Implementation{Name: "promotion-engine", Version: "1"}
	if _, err := c.Initialize(ctx, init); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize gateway session: %w", err)
	}
	return &Client{
		mcp:       c,
		processID: cfg.ProcessID,
		secret:    cfg.Secret,
		ttl:       cfg.TokenTTL,
		timeout:   cfg.CallTimeout,
		logger:    cfg.Logger,
	}, nil
}

func (c *Client) Close() error { return c.mcp.Close() }

func (c *Client) InsertOne(ctx context.Context, table string, record destination.Record) (destination.InsertResult, error) {
	var reply insertOneReply
	ok, msg, err := c.call(ctx, ToolInsertOne, insertOneData{Table: table, Record: record}, &reply)
	if err != nil || !ok {
		return destination.InsertResult{Message: msg}, err
	}
	return destination.InsertResult{Success: true, GeneratedID: reply.GeneratedID}, nil
}

func (c *Client) InsertBatch(ctx context.Context, table string, records []destination.Record) (destination.BatchResult, error) {
	var reply insertBatchReply
	ok, msg, err := c.call(ctx, ToolInsertBatch, insertBatchData{Table: table, Records: records}, &reply)
	if err != nil || !ok {
		return destination.BatchResult{Message: msg}, err
	}
	return destination.BatchResult{Success: true, Count: reply.Count}, nil
}

func (c *Client) Query(ctx context.Context, query string, params ...any) (destination.QueryResult, error) {
	if params == nil {
		params = []any{}
	}
	var reply queryReply
	ok, msg, err := c.call(ctx, ToolQuery, queryData{Query: query, Params: params}, &reply)
	if err != nil || !ok {
		return destination.QueryResult{Message: msg}, err
	}
	return destination.QueryResult{Success: true, Rows: reply.Rows}, nil
}

// Health reports false on any failure, including transport errors.
func (c *Client) Health(ctx context.Context) bool {
	var reply healthReply
	ok, _, err := c.call(ctx, ToolHealth, struct{}{}, &reply)
	return err == nil && ok && reply.Healthy
}

// call performs one tool call. A non-nil error is a transport failure; ok is
// false when the gateway answered with a tool error, described by msg.
func (c *Client) call(ctx context.Context, tool string, data any, reply any) (ok bool, msg string, err error) {
	uniqueID := uuid.NewString()
	ctx, span := otel.Tracer("promotion-engine/gateway").Start(ctx, "gateway."+tool)
	defer span.End()
	span.SetAttributes(attribute.String("gateway.unique_id", uniqueID), attribute.String("gateway.process_id", c.processID))

	args, err := c.envelope(tool, uniqueID, data)
	if err != nil {
		return false, "", &destination.TransportError{Op: tool, Err: err}
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	res, err := c.mcp.CallTool(cctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return false, "", &destination.TransportError{Op: tool, Err: err}
	}
	text := resultText(res)
	if res.IsError {
		span.SetStatus(codes.Error, "rejected")
		return false, text, nil
	}
	if err := json.Unmarshal([]byte(text), reply); err != nil {
		return false, "", &destination.TransportError{Op: tool, Err: fmt.Errorf("decode reply: %w", err)}
	}
	return true, "", nil
}

func (c *Client) envelope(tool, uniqueID string, data any) (map[string]any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode data: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	args := map[string]any{
		"tool":       tool,
		"data":       generic,
		"unique_id":  uniqueID,
		"process_id": c.processID,
	}
	if len(c.secret) > 0 {
		tok, err := signToken(c.secret, c.processID, c.ttl)
		if err != nil {
			return nil, fmt.Errorf("sign token: %w", err)
		}
		args["token"] = tok
	}
	return args, nil
}

func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, content := range res.Content {
		switch tc := content.(type) {
		case mcp.TextContent:
			parts = append(parts, tc.Text)
		case *mcp.TextContent:
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
