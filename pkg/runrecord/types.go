// Package runrecord implements the per-run on-disk record layout, the
// per-attempt grade record, and a SQLite-backed ledger of the run_ids
// claimed in each run group, which the scheduler reads to reuse run_ids
// when resuming a group.
package runrecord

import (
	"encoding/json"
	"fmt"

	"github.com/paperbench/paperbench/pkg/monitor"
	"github.com/paperbench/paperbench/pkg/rubric"
)

// Status is the on-disk heartbeat document (status.json).
type Status struct {
	Status          string `json:"status"` // "running" | "done" | "error"
	CreatedAt       int64  `json:"created_at"`
	AgentFinishedAt *int64 `json:"agent_finished_at"`
	LastUpdated     int64  `json:"last_updated"`
}

// AgentOutput summarizes an agent rollout for a single run. It is also the
// payload of the run's metadata.json.
type AgentOutput struct {
	RunID          string  `json:"run_id"`
	TimeStart      float64 `json:"time_start"`
	TimeEnd        float64 `json:"time_end"`
	RuntimeSeconds float64 `json:"runtime_in_seconds"`
	ErrorMessage   *string `json:"error_msg,omitempty"`
	StatusExists   bool    `json:"status_exists"`
}

// ReproScriptRunOutcome is one attempt at running reproduce.sh, including
// the initial attempt and any salvage retry.
type ReproScriptRunOutcome struct {
	ExecutionTimeSeconds float64 `json:"repro_execution_time"`
	TimedOut             bool    `json:"timedout"`
	Log                  string  `json:"repro_log"`
}

// ReproductionMetadata is the recorded outcome of the reproduction runner.
type ReproductionMetadata struct {
	IsValidGitRepo          bool                    `json:"is_valid_git_repo"`
	GitLog                  string                  `json:"git_log"`
	ReproScriptExists       bool                    `json:"repro_script_exists"`
	ExecutedSubmission      string                  `json:"executed_submission"`
	FilesBeforeReproduce    string                  `json:"files_before_reproduce"`
	FilesAfterReproduce     string                  `json:"files_after_reproduce"`
	TimedOut                bool                    `json:"timedout"`
	ReproLog                string                  `json:"repro_log"`
	RetriedResults          []ReproScriptRunOutcome `json:"retried_results"`
	ExecutionTimeSeconds    *float64                `json:"repro_execution_time"`
	GitStatusAfterReproduce *string                 `json:"git_status_after_reproduce"`
}

// TokenUsage accumulates completer token spend across every leaf grade.
type TokenUsage struct {
	Prompt     int64 `json:"prompt"`
	Completion int64 `json:"completion"`
	Total      int64 `json:"total"`
}

// Add accumulates u into t in place.
func (t *TokenUsage) Add(u TokenUsage) {
	t.Prompt += u.Prompt
	t.Completion += u.Completion
	t.Total += u.Total
}

// JudgeOutput is the judge's grader_output.json payload.
type JudgeOutput struct {
	JudgeType           string         `json:"judge_type"`
	CompleterConfig     map[string]any `json:"completer_config,omitempty"`
	Score               float64        `json:"score"`
	NumLeafNodes        int            `json:"num_leaf_nodes"`
	NumInvalidLeafNodes int            `json:"num_invalid_leaf_nodes"`
	GradedAt            string         `json:"graded_at"`
	GradedTaskTree      *rubric.Tree   `json:"graded_task_tree"`
	TokenUsage          *TokenUsage    `json:"token_usage"`

	// Success is true once leaves were graded without a fatal judge error;
	// it is distinct from every leaf having a ValidScore (some leaves may
	// individually fail to parse while the judge as a whole still ran).
	Success bool `json:"-"`
}

// judgeOutputWire lets JudgeOutput round-trip graded_task_tree through
// rubric.Tree's own nested wire format instead of its flat arena shape.
type judgeOutputWire struct {
	JudgeType           string          `json:"judge_type"`
	CompleterConfig     map[string]any  `json:"completer_config,omitempty"`
	Score               float64         `json:"score"`
	NumLeafNodes        int             `json:"num_leaf_nodes"`
	NumInvalidLeafNodes int             `json:"num_invalid_leaf_nodes"`
	GradedAt            string          `json:"graded_at"`
	GradedTaskTree      json.RawMessage `json:"graded_task_tree"`
	TokenUsage          *TokenUsage     `json:"token_usage"`
}

func (j JudgeOutput) MarshalJSON() ([]byte, error) {
	var treeJSON json.RawMessage
	if j.GradedTaskTree != nil {
		raw, err := j.GradedTaskTree.Marshal()
		if err != nil {
			return nil, fmt.Errorf("marshaling graded_task_tree: %w", err)
		}
		treeJSON = raw
	}
	return json.Marshal(judgeOutputWire{
		JudgeType:           j.JudgeType,
		CompleterConfig:     j.CompleterConfig,
		Score:               j.Score,
		NumLeafNodes:        j.NumLeafNodes,
		NumInvalidLeafNodes: j.NumInvalidLeafNodes,
		GradedAt:            j.GradedAt,
		GradedTaskTree:      treeJSON,
		TokenUsage:          j.TokenUsage,
	})
}

func (j *JudgeOutput) UnmarshalJSON(data []byte) error {
	var w judgeOutputWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	j.JudgeType = w.JudgeType
	j.CompleterConfig = w.CompleterConfig
	j.Score = w.Score
	j.NumLeafNodes = w.NumLeafNodes
	j.NumInvalidLeafNodes = w.NumInvalidLeafNodes
	j.GradedAt = w.GradedAt
	j.TokenUsage = w.TokenUsage
	if len(w.GradedTaskTree) > 0 {
		tree, err := rubric.Parse(w.GradedTaskTree)
		if err != nil {
			return fmt.Errorf("parsing graded_task_tree: %w", err)
		}
		j.GradedTaskTree = tree
	}
	return nil
}

// Result is the per-(paper, attempt) grade record.
type Result struct {
	PaperID              string                `json:"paper_id"`
	RunID                string                `json:"run_id"`
	SubmissionExists     bool                  `json:"submission_exists"`
	SkippedReproduction  bool                  `json:"skipped_reproduction"`
	CodeOnly             bool                  `json:"code_only"`
	ResourcesProvided    bool                  `json:"resources_provided"`
	AgentOutput          *AgentOutput          `json:"agent_output"`
	JudgeOutput          *JudgeOutput          `json:"judge_output"`
	ReproductionMetadata *ReproductionMetadata `json:"reproduction_metadata"`
	Score                float64               `json:"score"`
	SystemError          string                `json:"system_error,omitempty"`

	// MonitorRan / MonitorResult are populated only when the scheduler is
	// asked to audit each run's transcript inline after grading.
	MonitorRan    bool            `json:"monitor_ran"`
	MonitorResult *monitor.Result `json:"monitor_result,omitempty"`
}
