package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *APIClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *APIClient) *Handlers {
	return &Handlers{client: client}
}

// HandleSimulateTransaction scores a transaction.
func (h *Handlers) HandleSimulateTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tx := map[string]any{}
	for arg, field := range map[string]string{
		"to":             "to",
		"value":          "value",
		"gas_price":      "gasPrice",
		"type":           "type",
		"min_amount_out": "minAmountOut",
	} {
		if v := req.GetString(arg, ""); v != "" {
			tx[field] = v
		}
	}
	if slippage := req.GetFloat("slippage", 0); slippage > 0 {
		tx["slippage"] = slippage
	}

	raw, err := h.client.SimulateTransaction(ctx, tx, req.GetString("contract_address", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Simulation failed: %v", err)), nil
	}

	text, err := formatAssessment(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessment: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleStartDetection starts a detection session.
func (h *Handlers) HandleStartDetection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.StartDetection(ctx, req.GetString("contract_address", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start detection: %v", err)), nil
	}
	return stateResult(raw)
}

// HandleStopDetection stops a detection session.
func (h *Handlers) HandleStopDetection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.StopDetection(ctx, req.GetString("contract_address", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to stop detection: %v", err)), nil
	}
	return stateResult(raw)
}

// HandleDetectionStatus reports a session's live state.
func (h *Handlers) HandleDetectionStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.DetectionStatus(ctx, req.GetString("contract_address", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get detection status: %v", err)), nil
	}
	return stateResult(raw)
}

// HandleListSessions lists all sessions.
func (h *Handlers) HandleListSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListSessions(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list sessions: %v", err)), nil
	}

	text, err := formatSessions(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse sessions: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleSendPrivateTransaction submits through the private relay.
func (h *Handlers) HandleSendPrivateTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawTx := req.GetString("raw_transaction", "")
	if rawTx == "" {
		return mcp.NewToolResultError("raw_transaction is required"), nil
	}

	raw, err := h.client.SendPrivateTransaction(ctx, rawTx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Relay submission failed: %v", err)), nil
	}

	text, err := formatSubmission(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse submission: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

func stateResult(raw json.RawMessage) (*mcp.CallToolResult, error) {
	text, err := formatState(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse detection state: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- Response shapes ---

type statsView struct {
	TotalDetected     int64   `json:"totalDetected"`
	SandwichAttacks   int64   `json:"sandwichAttacks"`
	FrontRuns         int64   `json:"frontRuns"`
	TotalSlippageRisk float64 `json:"totalSlippageRisk"`
	AvgRiskScore      float64 `json:"avgRiskScore"`
}

type threatView struct {
	Type                    string  `json:"type"`
	Risk                    int     `json:"risk"`
	SlippageEstimatePercent float64 `json:"slippageEstimatePercent"`
	TransactionHash         string  `json:"transactionHash"`
	PotentialLoss           float64 `json:"potentialLoss"`
}

type stateView struct {
	Active          bool         `json:"active"`
	ContractAddress string       `json:"contractAddress"`
	Stats           statsView    `json:"stats"`
	RecentThreats   []threatView `json:"recentThreats"`
	Stale           bool         `json:"stale"`
	TotalThreats    *int         `json:"totalThreats"`
}

// --- Formatters ---

func formatAssessment(raw json.RawMessage) (string, error) {
	var a struct {
		RiskScore                    int      `json:"riskScore"`
		RiskLevel                    string   `json:"riskLevel"`
		Warnings                     []string `json:"warnings"`
		Recommendation               string   `json:"recommendation"`
		RecommendationAction         string   `json:"recommendationAction"`
		EstimatedSlippage            string   `json:"estimatedSlippage"`
		EstimatedFrontRunProbability string   `json:"estimatedFrontRunProbability"`
		ContractAddress              string   `json:"contractAddress"`
		Relay                        struct {
			Advised bool   `json:"advised"`
			Reason  string `json:"reason"`
		} `json:"relay"`
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Risk: %d/100 (%s)\n", a.RiskScore, a.RiskLevel)
	fmt.Fprintf(&sb, "Contract: %s\n", a.ContractAddress)
	fmt.Fprintf(&sb, "Front-run probability: %s, expected slippage: %s\n", a.EstimatedFrontRunProbability, a.EstimatedSlippage)
	if len(a.Warnings) > 0 {
		sb.WriteString("\nWarnings:\n")
		for _, w := range a.Warnings {
			fmt.Fprintf(&sb, "- %s\n", w)
		}
	}
	fmt.Fprintf(&sb, "\n%s\n%s\n", a.Recommendation, a.RecommendationAction)
	if a.Relay.Advised {
		fmt.Fprintf(&sb, "Private relay: advised (%s)\n", a.Relay.Reason)
	} else {
		fmt.Fprintf(&sb, "Private relay: optional (%s)\n", a.Relay.Reason)
	}
	return sb.String(), nil
}

func formatState(raw json.RawMessage) (string, error) {
	var resp struct {
		Message string    `json:"message"`
		State   stateView `json:"state"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	if resp.Message != "" {
		sb.WriteString(resp.Message + "\n")
	}
	writeState(&sb, resp.State)
	return sb.String(), nil
}

func writeState(sb *strings.Builder, st stateView) {
	status := "stopped"
	switch {
	case st.Active && st.Stale:
		status = "active (stale: no recent feed activity)"
	case st.Active:
		status = "active"
	}
	address := st.ContractAddress
	if address == "" {
		address = "(none)"
	}

	fmt.Fprintf(sb, "Contract: %s\n", address)
	fmt.Fprintf(sb, "Status: %s\n", status)
	fmt.Fprintf(sb, "Threats detected: %d (sandwich %d, front-run %d)\n",
		st.Stats.TotalDetected, st.Stats.SandwichAttacks, st.Stats.FrontRuns)
	fmt.Fprintf(sb, "Average risk: %.2f, cumulative slippage risk: %.2f%%\n",
		st.Stats.AvgRiskScore, st.Stats.TotalSlippageRisk)
	if st.TotalThreats != nil {
		fmt.Fprintf(sb, "Threats retained: %d\n", *st.TotalThreats)
	}

	if len(st.RecentThreats) > 0 {
		sb.WriteString("\nRecent threats (newest last):\n")
		for _, t := range st.RecentThreats {
			fmt.Fprintf(sb, "- %s risk %d, slippage %.2f%%, loss %.4f ETH, tx %s\n",
				t.Type, t.Risk, t.SlippageEstimatePercent, t.PotentialLoss, shortHash(t.TransactionHash))
		}
	}
}

func formatSessions(raw json.RawMessage) (string, error) {
	var resp struct {
		Sessions []stateView `json:"sessions"`
		Count    int         `json:"count"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Sessions) == 0 {
		return "No detection sessions.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d session(s):\n", resp.Count)
	for _, st := range resp.Sessions {
		sb.WriteString("\n")
		st.RecentThreats = nil
		writeState(&sb, st)
	}
	return sb.String(), nil
}

func formatSubmission(raw json.RawMessage) (string, error) {
	var s struct {
		Mocked      bool   `json:"mocked"`
		Status      string `json:"status"`
		Relay       string `json:"relay"`
		BundleHash  string `json:"bundleHash"`
		TargetBlock uint64 `json:"targetBlock"`
		Message     string `json:"message"`
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Status: %s\n", s.Status)
	fmt.Fprintf(&sb, "Relay: %s\n", s.Relay)
	if s.Mocked {
		sb.WriteString("Mocked: no relay signer configured, nothing was sent\n")
	}
	if s.BundleHash != "" {
		fmt.Fprintf(&sb, "Bundle: %s (target block %d)\n", s.BundleHash, s.TargetBlock)
	}
	if s.Message != "" {
		sb.WriteString(s.Message + "\n")
	}
	return sb.String(), nil
}

func shortHash(h string) string {
	if len(h) <= 14 {
		return h
	}
	return h[:10] + "…" + h[len(h)-4:]
}
