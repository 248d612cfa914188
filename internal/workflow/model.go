package workflow

// NodeType discriminates the node variants a workflow document can contain.
type NodeType string

const (
	NodeMCPCall    NodeType = "mcp_call"
	NodeIf         NodeType = "if"
	NodeForEach    NodeType = "for_each"
	NodeTryCatch   NodeType = "try_catch"
	NodeSubWorkflow NodeType = "sub_workflow"
	NodeSet        NodeType = "set"
	NodeSleep      NodeType = "sleep"
)

// Node is one entry of a workflow document's node list. Fields are a
// superset across all variants. Loading does not check that the fields
// required by Type are present; a missing field surfaces as an error from
// that node's handler when it runs.
type Node struct {
	ID   string   `json:"id"`
	Type NodeType `json:"type"`

	// mcp_call
	MCPServer string                 `json:"mcp_server,omitempty"`
	Tool      string                 `json:"tool,omitempty"`
	Params    map[string]interface{} `json:"params,omitempty"`

	// if
	Condition   string `json:"condition,omitempty"`
	TrueBranch  string `json:"true_branch,omitempty"`
	FalseBranch string `json:"false_branch,omitempty"`

	// for_each
	Items          string `json:"items,omitempty"`
	ItemVar        string `json:"item_var,omitempty"`
	IndexVar       string `json:"index_var,omitempty"`
	SubWorkflow    string `json:"sub_workflow,omitempty"`
	MaxParallel    int    `json:"max_parallel,omitempty"`
	CollectResults bool   `json:"collect_results,omitempty"`
	StopOnError    bool   `json:"stop_on_error,omitempty"`

	// try_catch
	TryNode     string `json:"try_node,omitempty"`
	CatchNode   string `json:"catch_node,omitempty"`
	FinallyNode string `json:"finally_node,omitempty"`
	ErrorVar    string `json:"error_var,omitempty"`

	// sub_workflow
	Workflow     string                 `json:"workflow,omitempty"`
	Category     string                 `json:"category,omitempty"`
	WorkflowParams map[string]interface{} `json:"workflow_params,omitempty"`

	// set
	Variables map[string]interface{} `json:"variables,omitempty"`

	// sleep
	Duration float64 `json:"duration,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

// Edge is a directed dependency: Source must complete before Target starts.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Definition is an immutable, on-disk workflow document. Once loaded it is
// never mutated; every execution works off its own copy of the data it
// needs (results, variables), never the definition itself.
type Definition struct {
	Name        string                 `json:"name"`
	Version     string                 `json:"version,omitempty"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Nodes       []Node                 `json:"nodes"`
	Edges       []Edge                 `json:"edges"`
	UIMetadata  map[string]interface{} `json:"ui_metadata,omitempty"`
}

// NodeByID returns the node with the given id, or false if absent.
func (d *Definition) NodeByID(id string) (Node, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// NodeState is the lifecycle of a single node within one execution.
type NodeState string

const (
	NodePending   NodeState = "pending"
	NodeRunning   NodeState = "running"
	NodeCompleted NodeState = "completed"
	NodeError     NodeState = "error"
	NodeSkipped   NodeState = "skipped"
)

// ExecutionStatus is the terminal (or current) state of a whole run.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
)

// ExecutedError is one entry of ExecutionContext.Errors / ExecutionResult.Errors.
type ExecutedError struct {
	NodeID  string `json:"node_id"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ProgressEvent is emitted on every node state transition and appended to
// the execution's progress stream in the Store.
type ProgressEvent struct {
	Type       string               `json:"type"`
	NodeID     string               `json:"node_id"`
	Status     NodeState            `json:"status"`
	NodeStates map[string]NodeState `json:"node_states_snapshot"`
}

// ProgressCallback is the signature of a ProgressEvent observer. The
// engine accepts no callback and never invokes one; progress events go
// only to the Store.
type ProgressCallback func(ProgressEvent)

// ExecutionResult is the immutable, persisted outcome of one run.
type ExecutionResult struct {
	ID               string                  `json:"id"`
	WorkflowName     string                  `json:"workflow_name"`
	Status           ExecutionStatus         `json:"status"`
	Results          map[string]interface{}  `json:"results"`
	Errors           []ExecutedError         `json:"errors"`
	Logs             []string                `json:"logs"`
	NodeStates       map[string]NodeState    `json:"node_states"`
	CumulativeTokens int                     `json:"cumulative_tokens"`
	StartedAt        string                  `json:"started_at"`
	CompletedAt      string                  `json:"completed_at,omitempty"`
	// Trigger and ParentExecutionID supplement the original spec's result
	// shape with execution-history/replay metadata: what caused the run
	// (schedule, manual, parent sub_workflow call) and, for nested runs,
	// which execution spawned this one.
	Trigger           string `json:"trigger,omitempty"`
	ParentExecutionID string `json:"parent_execution_id,omitempty"`
	// DomainRef is an optional caller-supplied reference id (e.g. a scan
	// id) threaded through for correlation with an external system.
	DomainRef string `json:"domain_ref,omitempty"`
}
