package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterTools registers all chainbench tools on the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	registerState(s, client)
	registerHealth(s, client)
	registerNetworks(s, client)
	registerNetworkMetrics(s, client)
	registerRun(s, client)
	registerHistory(s, client)
	registerRunDetail(s, client)
	registerRunTxs(s, client)
	registerDeleteRun(s, client)
}

func registerState(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("chainbench_state",
		gomcp.WithDescription("Get the stress test state of every network (idle, sending, draining, finalized)."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get(ctx, "/v1/state")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("chainbench unreachable: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatState(raw)), nil
	})
}

func registerHealth(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("chainbench_health",
		gomcp.WithDescription("Readiness check: verifies each configured network's RPC endpoint answers."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		// /ready answers 503 with a body when a check fails; the client
		// reports that as an error carrying the body.
		raw, err := client.Get(ctx, "/ready")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("chainbench not ready: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHealth(raw)), nil
	})
}

func registerNetworks(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("chainbench_networks",
		gomcp.WithDescription("List configured networks with chain IDs, RPC URLs and current state."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get(ctx, "/v1/networks")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Networks failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatNetworks(raw)), nil
	})
}

func registerNetworkMetrics(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("chainbench_network_metrics",
		gomcp.WithDescription("Passive snapshot of a network: TPS of the latest block, block time, gas price and RPC latency."),
		gomcp.WithString("network",
			gomcp.Required(),
			gomcp.Description("Network name (e.g. l2, linea)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		name, err := req.RequireString("network")
		if err != nil {
			return gomcp.NewToolResultError("network is required"), nil
		}
		raw, err := client.Get(ctx, "/v1/networks/"+url.PathEscape(name)+"/metrics")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Network metrics failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatSnapshot(raw)), nil
	})
}

func registerRun(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("chainbench_run",
		gomcp.WithDescription("Run a stress test and wait for its results. This is a MUTATING operation that submits real transactions. "+
			"Networks run one after another; the call returns after every network has been drained."),
		gomcp.WithString("networks",
			gomcp.Required(),
			gomcp.Description("Comma-separated network names (e.g. l2,linea)"),
		),
		gomcp.WithNumber("duration",
			gomcp.Required(),
			gomcp.Description("Test duration in seconds per network (1-3600)"),
		),
		gomcp.WithNumber("tps",
			gomcp.Required(),
			gomcp.Description("Target transactions per second (1-10000)"),
		),
		gomcp.WithString("transaction_type",
			gomcp.Description("transfer (default), tokenTransfer, mint, contractCall"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		networks, err := req.RequireString("networks")
		if err != nil {
			return gomcp.NewToolResultError("networks is required"), nil
		}
		duration := req.GetInt("duration", 0)
		if duration <= 0 {
			return gomcp.NewToolResultError("duration must be positive"), nil
		}
		tps := req.GetInt("tps", 0)
		if tps <= 0 {
			return gomcp.NewToolResultError("tps must be positive"), nil
		}

		var names []string
		for _, n := range strings.Split(networks, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}

		payload := map[string]any{
			"networks": names,
			"duration": duration,
			"tps":      tps,
		}
		if v := req.GetString("transaction_type", ""); v != "" {
			payload["transactionType"] = v
		}

		raw, err := client.Post(ctx, "/v1/stress-test", payload)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Stress test failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRunResult(raw)), nil
	})
}

func registerHistory(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("chainbench_history",
		gomcp.WithDescription("List completed stress test runs with per-network summary metrics (paginated)."),
		gomcp.WithNumber("limit",
			gomcp.Description("Max results to return (default: 10, max: 100)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Results offset for pagination (default: 0)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		offset := req.GetInt("offset", 0)
		path := fmt.Sprintf("/v1/history?limit=%d&offset=%d", limit, offset)

		raw, err := client.Get(ctx, path)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("History failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHistory(raw)), nil
	})
}

func registerRunDetail(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("chainbench_run_detail",
		gomcp.WithDescription("Get detailed results for a stored run by ID."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		raw, err := client.Get(ctx, "/v1/history/"+url.PathEscape(id))
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Run detail failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRunDetail(raw)), nil
	})
}

func registerRunTxs(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("chainbench_run_txs",
		gomcp.WithDescription("Get transaction logs of one network in a stored run (paginated)."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID"),
		),
		gomcp.WithString("network",
			gomcp.Required(),
			gomcp.Description("Network name"),
		),
		gomcp.WithNumber("limit",
			gomcp.Description("Max transactions to return (default: 50, max: 1000)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Offset for pagination (default: 0)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		name, err := req.RequireString("network")
		if err != nil {
			return gomcp.NewToolResultError("network is required"), nil
		}
		limit := req.GetInt("limit", 50)
		offset := req.GetInt("offset", 0)
		path := fmt.Sprintf("/v1/history/%s/transactions?network=%s&limit=%d&offset=%d",
			url.PathEscape(id), url.QueryEscape(name), limit, offset)

		raw, err := client.Get(ctx, path)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Run transactions failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRunTxs(raw)), nil
	})
}

func registerDeleteRun(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("chainbench_delete_run",
		gomcp.WithDescription("Delete a stored run with its results and transaction logs. This is a MUTATING operation."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID to delete"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		if _, err := client.Delete(ctx, "/v1/history/"+url.PathEscape(id)); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Delete failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Run Deleted"),
			kv("ID", id),
		)), nil
	})
}

// Response formatting functions

func formatState(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing state: %v", err)
	}

	busy := "no"
	if getBool(m, "busy") {
		busy = "yes"
	}
	lines := joinLines(
		section("chainbench State"),
		kv("Busy", busy),
	)

	networks, _ := m["networks"].(map[string]any)
	for _, name := range sortedKeys(networks) {
		state, _ := networks[name].(string)
		lines += "\n" + kv(name, state)
	}
	return lines
}

func formatHealth(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing health: %v", err)
	}

	state := "READY"
	if !getBool(m, "ready") {
		state = "NOT READY"
	}

	lines := section("chainbench Health: " + state)

	if checks, ok := m["checks"].([]any); ok {
		for _, c := range checks {
			check, ok := c.(map[string]any)
			if !ok {
				continue
			}
			line := fmt.Sprintf("  %-15s %s", getStr(check, "name"), getStr(check, "status"))
			if errMsg := getStr(check, "error"); errMsg != "" {
				line += " - " + errMsg
			}
			lines += "\n" + line
		}
	}

	return lines
}

func formatNetworks(raw json.RawMessage) string {
	var networks []map[string]any
	if err := json.Unmarshal(raw, &networks); err != nil {
		return fmt.Sprintf("Error parsing networks: %v", err)
	}
	if len(networks) == 0 {
		return section("Networks") + "\nNo networks configured."
	}

	lines := section("Networks")
	for _, n := range networks {
		lines += "\n\n" + joinLines(
			"### "+getStr(n, "name"),
			kv("Chain ID", fmt.Sprintf("%d", int64(getNum(n, "chainId")))),
			kv("RPC", getStr(n, "rpcUrl")),
			kv("State", getStr(n, "state")),
		)
	}
	return lines
}

func formatSnapshot(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing network metrics: %v", err)
	}

	return joinLines(
		section("Network: "+getStr(m, "network")),
		kv("Block", formatNumber(getNum(m, "blockNumber"))),
		kv("TPS", fmt.Sprintf("%.2f", getNum(m, "tps"))),
		kv("Block Time", fmt.Sprintf("%.2fs", getNum(m, "blockTime"))),
		kv("Gas Price", fmt.Sprintf("%.3f gwei", getNum(m, "gasPrice"))),
		kv("RPC Latency", formatMs(getNum(m, "latency"))),
	)
}

// formatNetworkMetrics renders one network's final metrics.
func formatNetworkMetrics(name string, m map[string]any) string {
	lines := joinLines(
		"### "+name,
		kv("Requested", formatNumber(getNum(m, "requested"))),
		kv("Sent", formatNumber(getNum(m, "sent"))),
		kv("Confirmed", formatNumber(getNum(m, "confirmed"))),
		kv("Failed", formatNumber(getNum(m, "failed"))),
		kv("Pending", formatNumber(getNum(m, "pending"))),
		kv("Success Rate", formatPct(getNum(m, "successRate"))),
		kv("Avg TPS", fmt.Sprintf("%.2f", getNum(m, "avgTps"))),
		kv("Avg Block Time", fmt.Sprintf("%.2fs", getNum(m, "avgBlockTime"))),
		kv("Avg Gas Used", formatNumber(getNum(m, "avgGasUsed"))),
	)
	if getBool(m, "drainTimedOut") {
		lines += "\n" + kv("Drain", "timed out with pending transactions")
	}

	if lat, ok := m["latency"].(map[string]any); ok {
		lines += "\n" + joinLines(
			kv("Latency Min", formatMs(getNum(lat, "min"))),
			kv("Latency P50", formatMs(getNum(lat, "p50"))),
			kv("Latency P90", formatMs(getNum(lat, "p90"))),
			kv("Latency P99", formatMs(getNum(lat, "p99"))),
			kv("Latency Max", formatMs(getNum(lat, "max"))),
		)
	}
	return lines
}

func formatResults(results map[string]any) string {
	var parts []string
	for _, name := range sortedKeys(results) {
		m, ok := results[name].(map[string]any)
		if !ok {
			continue
		}
		parts = append(parts, formatNetworkMetrics(name, m))
	}
	return strings.Join(parts, "\n\n")
}

func formatRunResult(raw json.RawMessage) string {
	var results map[string]any
	if err := json.Unmarshal(raw, &results); err != nil {
		return fmt.Sprintf("Error parsing results: %v", err)
	}
	return section("Stress Test Results") + "\n\n" + formatResults(results)
}

func formatHistory(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing history: %v", err)
	}

	lines := joinLines(
		section("Run History"),
		kv("Total Runs", formatNumber(getNum(m, "total"))),
		"",
	)

	runs, ok := m["runs"].([]any)
	if !ok || len(runs) == 0 {
		return lines + "\nNo runs found."
	}

	for _, r := range runs {
		run, ok := r.(map[string]any)
		if !ok {
			continue
		}
		lines += "\n\n" + joinLines(
			"### "+getStr(run, "id"),
			kv("Started", formatTime(getStr(run, "startedAt"))),
			kv("TX Type", getStr(run, "transactionType")),
			kv("Target", fmt.Sprintf("%d TPS for %ds", int64(getNum(run, "tps")), int64(getNum(run, "duration")))),
		)
		results, _ := run["results"].(map[string]any)
		for _, name := range sortedKeys(results) {
			nm, ok := results[name].(map[string]any)
			if !ok {
				continue
			}
			lines += "\n" + kv(name, fmt.Sprintf("%s confirmed, %s failed, %.2f TPS",
				formatNumber(getNum(nm, "confirmed")),
				formatNumber(getNum(nm, "failed")),
				getNum(nm, "avgTps"),
			))
		}
	}

	return lines
}

func formatRunDetail(raw json.RawMessage) string {
	var run map[string]any
	if err := json.Unmarshal(raw, &run); err != nil {
		return fmt.Sprintf("Error parsing run detail: %v", err)
	}

	lines := joinLines(
		section("Run: "+getStr(run, "id")),
		kv("Started", formatTime(getStr(run, "startedAt"))),
		kv("Finished", formatTime(getStr(run, "finishedAt"))),
		kv("TX Type", getStr(run, "transactionType")),
		kv("Duration", fmt.Sprintf("%ds", int64(getNum(run, "duration")))),
		kv("Target TPS", formatNumber(getNum(run, "tps"))),
	)

	if results, ok := run["results"].(map[string]any); ok {
		lines += "\n\n" + formatResults(results)
	}
	return lines
}

func formatRunTxs(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing transactions: %v", err)
	}

	lines := joinLines(
		section("Transaction Logs"),
		kv("Total", formatNumber(getNum(m, "total"))),
		"",
	)

	txs, ok := m["transactions"].([]any)
	if !ok || len(txs) == 0 {
		return lines + "\nNo transactions found."
	}

	for i, t := range txs {
		if i >= 20 {
			lines += fmt.Sprintf("\n... and %d more", len(txs)-20)
			break
		}
		tx, ok := t.(map[string]any)
		if !ok {
			continue
		}
		line := fmt.Sprintf("  [%d] %s  %s  nonce=%d", i, shortHash(getStr(tx, "hash")), getStr(tx, "status"), int64(getNum(tx, "nonce")))
		if errMsg := getStr(tx, "error"); errMsg != "" {
			line += "  " + errMsg
		}
		lines += "\n" + line
	}

	return lines
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
