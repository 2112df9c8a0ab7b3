package wire

// Action type tags carried in an ai_response. Parsers may emit other tags
// (for example "get_metrics"); consumers classify those by policy.
const (
	ActionInfo    = "info"
	ActionConfirm = "confirm"
	ActionExecute = "execute"

	ActionGetMetrics = "get_metrics"
)

// UserMessage carries one operator submission.
type UserMessage struct {
	Text      string `json:"text"`
	RequestID string `json:"requestId,omitempty"`
}

// AIResponse is the backend's reply to a UserMessage.
type AIResponse struct {
	Message   string      `json:"message"`
	Actions   []RawAction `json:"actions"`
	Intent    *Intent     `json:"intent,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
}

// RawAction is an action proposal as it appears on the wire, before
// classification.
type RawAction struct {
	Type     string `json:"type"`
	ServerID string `json:"serverId,omitempty"`
	Command  string `json:"command,omitempty"`
}

// Intent is the parser's structured reading of the submission.
type Intent struct {
	Intent       string `json:"intent"`
	TargetServer string `json:"targetServer,omitempty"`
	Action       string `json:"action,omitempty"`
}

// ExecuteAction asks the backend to run a command on a server.
type ExecuteAction struct {
	ActionID     string `json:"actionId"`
	ServerID     string `json:"serverId"`
	Command      string `json:"command"`
	RequestToken uint64 `json:"requestToken,omitempty"`
}

// ActionResult reports the outcome of an ExecuteAction. A non-empty Error
// means the command never ran (unknown server, connect failure).
type ActionResult struct {
	ActionID     string `json:"actionId"`
	ServerID     string `json:"serverId,omitempty"`
	Stdout       string `json:"stdout"`
	Stderr       string `json:"stderr"`
	ExitCode     int    `json:"exitCode"`
	Error        string `json:"error,omitempty"`
	RequestToken uint64 `json:"requestToken,omitempty"`
}

// GetMetrics requests a metrics snapshot for one server.
type GetMetrics struct {
	ServerID     string `json:"serverId"`
	RequestToken uint64 `json:"requestToken,omitempty"`
}

// MetricsUpdate delivers a snapshot, or an error when collection failed.
type MetricsUpdate struct {
	ServerID     string   `json:"serverId"`
	Metrics      *Metrics `json:"metrics,omitempty"`
	Error        string   `json:"error,omitempty"`
	RequestToken uint64   `json:"requestToken,omitempty"`
}

// Metrics is a point-in-time health snapshot of one server. Fields the
// collector could not read are left empty. Memory is in megabytes, network
// counters in bytes; disk sizes are as df -h prints them.
type Metrics struct {
	CPUUsage      *float64  `json:"cpuUsage,omitempty"`
	MemoryUsed    *int64    `json:"memoryUsed,omitempty"`
	MemoryTotal   *int64    `json:"memoryTotal,omitempty"`
	MemoryPercent *float64  `json:"memoryPercent,omitempty"`
	DiskUsed      string    `json:"diskUsed,omitempty"`
	DiskTotal     string    `json:"diskTotal,omitempty"`
	DiskPercent   string    `json:"diskPercent,omitempty"`
	LoadAvg       []float64 `json:"loadAvg,omitempty"`
	NetworkRx     *int64    `json:"networkRx,omitempty"`
	NetworkTx     *int64    `json:"networkTx,omitempty"`
	Interface     string    `json:"interface,omitempty"`
	Uptime        string    `json:"uptime,omitempty"`
}

// ListServers asks for the registry contents.
type ListServers struct{}

// ServerInfo is the public view of a registered server; credentials are
// never sent on the channel.
type ServerInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Hostname   string `json:"hostname"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	AuthMethod string `json:"authMethod"`
}

type ServerList struct {
	Servers []ServerInfo `json:"servers"`
}

type ServerRemoved struct {
	ServerID string `json:"serverId"`
}

// ErrorNotice tells the peer its frame was rejected.
type ErrorNotice struct {
	Message string `json:"message"`
}
