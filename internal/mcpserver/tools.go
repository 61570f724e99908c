package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the MEV protection MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolSimulateTransaction = mcp.NewTool("simulate_transaction",
	mcp.WithDescription(
		"Score a pending Ethereum transaction for front-running and sandwich risk before broadcasting it. "+
			"Returns a 0-100 risk score, level (LOW/MEDIUM/HIGH), warnings, and whether to use a private relay."),
	mcp.WithString("to",
		mcp.Description("Destination contract address (e.g. a DEX router)")),
	mcp.WithString("value",
		mcp.Description("Value in wei, decimal or 0x-hex (e.g. '2000000000000000000' for 2 ETH)")),
	mcp.WithString("gas_price",
		mcp.Description("Gas price in wei, decimal or 0x-hex (e.g. '150000000000' for 150 gwei)")),
	mcp.WithString("type",
		mcp.Description("Transaction kind. Defaults to swap."),
		mcp.Enum("swap", "trade", "transfer", "deposit", "withdraw")),
	mcp.WithString("min_amount_out",
		mcp.Description("Minimum output amount in wei. Setting it counts as slippage protection.")),
	mcp.WithNumber("slippage",
		mcp.Description("Slippage tolerance in percent. Any positive value counts as slippage protection.")),
	mcp.WithString("contract_address",
		mcp.Description("Contract whose live threat density should inform the score")),
)

var ToolStartDetection = mcp.NewTool("start_detection",
	mcp.WithDescription(
		"Start watching a contract's mempool traffic for MEV attacks. "+
			"Starting an already-watched contract returns its current state."),
	mcp.WithString("contract_address",
		mcp.Description("Contract address to watch (e.g. a Uniswap pool)")),
)

var ToolStopDetection = mcp.NewTool("stop_detection",
	mcp.WithDescription(
		"Stop watching a contract. Returns the final statistics. "+
			"Without an address, stops the most recently started session."),
	mcp.WithString("contract_address",
		mcp.Description("Contract address to stop watching")),
)

var ToolDetectionStatus = mcp.NewTool("detection_status",
	mcp.WithDescription(
		"Get live detection state: whether the session is active, counters by attack type, "+
			"average risk, and the most recent threats."),
	mcp.WithString("contract_address",
		mcp.Description("Contract address. Defaults to the most recently started session.")),
)

var ToolListSessions = mcp.NewTool("list_sessions",
	mcp.WithDescription("List every detection session, active or stopped, most recent first."),
)

var ToolSendPrivateTransaction = mcp.NewTool("send_private_transaction",
	mcp.WithDescription(
		"Submit a signed raw transaction through the private bundle relay so it never appears in the public mempool. "+
			"When no relay signer is configured the submission is mocked."),
	mcp.WithString("raw_transaction",
		mcp.Required(),
		mcp.Description("RLP-encoded signed transaction, 0x-prefixed hex")),
)
