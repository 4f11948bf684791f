package snapshot

import "encoding/json"

// LogInfo is a single submissions/<ts>/log.json document. ProductiveRuntime
// is the wall-clock runtime minus time lost to provider retries and
// timed-out sandbox calls.
type LogInfo struct {
	CreatedAt         int64   `json:"created_at"`
	NumMessages       int     `json:"num_messages"`
	RuntimeSeconds    float64 `json:"runtime"`
	ProductiveRuntime float64 `json:"productive_runtime"`
	RetryTime         float64 `json:"retry_time"`
	SnapshotNumber    int     `json:"snapshot_number"`
}

func marshalLogInfo(info LogInfo) ([]byte, error) {
	return json.MarshalIndent(info, "", "  ")
}
