package pgmanager

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterMCPTools registers execute, commit and rollback as MCP tools on
// the given MCP server. The Manager must already be connected for execute
// to succeed.
func RegisterMCPTools(mcpServer *server.MCPServer, mgr *Manager) {
	categories := make([]string, 0, len(Categories()))
	for _, c := range Categories() {
		categories = append(categories, string(c))
	}

	// Execute tool
	executeTool := mcp.NewTool("execute",
		mcp.WithDescription(fmt.Sprintf(
			"Execute one SQL statement in the open transaction. The statement must match its category; gate mode is %q. Changes are not visible to others until commit.",
			mgr.Mode())),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("The SQL statement to execute"),
		),
		mcp.WithString("category",
			mcp.Required(),
			mcp.Description("The statement category"),
			mcp.Enum(categories...),
		),
		mcp.WithBoolean("fetch",
			mcp.Description("Return result rows (always on for SELECT)"),
		),
	)

	mcpServer.AddTool(executeTool, mgr.loggedToolHandler("execute", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		sql, ok := args["sql"]
		if !ok {
			return mcp.NewToolResultError("sql parameter is required"), nil
		}
		category, err := req.RequireString("category")
		if err != nil {
			return mcp.NewToolResultError("category parameter is required"), nil
		}
		// sql is passed through untyped so the gate rejects non-strings.
		output := mgr.Execute(ctx, StatementInput{
			SQL:      sql,
			Category: Category(strings.ToUpper(category)),
			Fetch:    req.GetBool("fetch", false),
		})
		if output.Status == StatusFailed {
			return mcp.NewToolResultError(output.Error), nil
		}
		output.Rows = convertRows(output.Rows)
		jsonBytes, err := json.Marshal(output)
		if err != nil {
			return mcp.NewToolResultError("failed to marshal execute result"), nil
		}
		return mcp.NewToolResultText(string(jsonBytes)), nil
	}))

	// Commit tool
	commitTool := mcp.NewTool("commit",
		mcp.WithDescription("Commit all statements executed since the last commit or rollback."),
	)

	mcpServer.AddTool(commitTool, mgr.loggedToolHandler("commit", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return lifecycleResult(mgr.Commit(ctx), "commit")
	}))

	// Rollback tool
	rollbackTool := mcp.NewTool("rollback",
		mcp.WithDescription("Discard all statements executed since the last commit or rollback. Required after a failed statement."),
		mcp.WithIdempotentHintAnnotation(true),
	)

	mcpServer.AddTool(rollbackTool, mgr.loggedToolHandler("rollback", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return lifecycleResult(mgr.Rollback(ctx), "rollback")
	}))
}

func lifecycleResult(output *LifecycleOutput, op string) (*mcp.CallToolResult, error) {
	if output.Status == StatusFailed {
		return mcp.NewToolResultError(output.Error), nil
	}
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		return mcp.NewToolResultError("failed to marshal " + op + " result"), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// loggedToolHandler wraps a tool handler to log request and response lengths.
func (m *Manager) loggedToolHandler(tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reqLen := requestLength(req)
		result, err := handler(ctx, req)
		respLen := resultLength(result)
		m.logger.Info().
			Str("tool", tool).
			Int("request_bytes", reqLen).
			Int("response_bytes", respLen).
			Msg("tool call")
		return result, err
	}
}

// requestLength returns the JSON-encoded byte length of the request arguments.
func requestLength(req mcp.CallToolRequest) int {
	args := req.GetArguments()
	if len(args) == 0 {
		return 0
	}
	b, err := json.Marshal(args)
	if err != nil {
		return 0
	}
	return len(b)
}

// resultLength returns the total byte length of text content in a CallToolResult.
func resultLength(result *mcp.CallToolResult) int {
	if result == nil {
		return 0
	}
	total := 0
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			total += len(tc.Text)
		}
	}
	return total
}

// convertRows returns a copy of rows with every value made JSON-friendly.
func convertRows(rows [][]interface{}) [][]interface{} {
	if rows == nil {
		return nil
	}
	out := make([][]interface{}, len(rows))
	for i, row := range rows {
		converted := make([]interface{}, len(row))
		for j, v := range row {
			converted[j] = convertValue(v)
		}
		out[i] = converted
	}
	return out
}

// convertValue converts driver values that encoding/json renders poorly
// or fails on (NaN, pgtype structs, raw bytes) into strings.
func convertValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case float32:
		return convertFloat(float64(val), val)
	case float64:
		return convertFloat(val, val)
	case netip.Prefix:
		return val.String()
	case netip.Addr:
		return val.String()
	case net.HardwareAddr:
		return val.String()
	case pgtype.Time:
		if !val.Valid {
			return nil
		}
		us := val.Microseconds
		hours := us / 3_600_000_000
		us -= hours * 3_600_000_000
		minutes := us / 60_000_000
		us -= minutes * 60_000_000
		seconds := us / 1_000_000
		us -= seconds * 1_000_000
		if us > 0 {
			return fmt.Sprintf("%02d:%02d:%02d.%06d", hours, minutes, seconds, us)
		}
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	case pgtype.Interval:
		if !val.Valid {
			return nil
		}
		parts := []string{}
		if years := val.Months / 12; years != 0 {
			parts = append(parts, fmt.Sprintf("%d year(s)", years))
		}
		if months := val.Months % 12; months != 0 {
			parts = append(parts, fmt.Sprintf("%d mon(s)", months))
		}
		if val.Days != 0 {
			parts = append(parts, fmt.Sprintf("%d day(s)", val.Days))
		}
		if val.Microseconds != 0 {
			parts = append(parts, (time.Duration(val.Microseconds) * time.Microsecond).String())
		}
		if len(parts) == 0 {
			return "0"
		}
		return strings.Join(parts, " ")
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}
		if val.NaN {
			return "NaN"
		}
		switch val.InfinityModifier {
		case pgtype.Infinity:
			return "Infinity"
		case pgtype.NegativeInfinity:
			return "-Infinity"
		}
		b, err := val.MarshalJSON()
		if err != nil {
			return nil
		}
		return string(b)
	case [16]byte:
		return uuid.UUID(val).String()
	case []byte:
		// bytea
		return base64.StdEncoding.EncodeToString(val)
	case map[string]interface{}:
		result := make(map[string]interface{}, len(val))
		for k, v := range val {
			result[k] = convertValue(v)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(val))
		for i, v := range val {
			result[i] = convertValue(v)
		}
		return result
	default:
		return val
	}
}

func convertFloat(f float64, orig interface{}) interface{} {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return orig
}
