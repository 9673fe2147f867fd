package broadcast

// Counts is the running tally carried by every broadcast event.
type Counts struct {
	Total  int `json:"total"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Outcome is the result of one recipient attempt.
type Outcome struct {
	ID     int64  `json:"id"`
	Phone  string `json:"phone"`
	Status string `json:"status"` // ok | failed
	Error  string `json:"error,omitempty"`
}

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

type StartEvent struct {
	Counts
}

func (StartEvent) Kind() string { return "start" }

type ProgressEvent struct {
	Counts
	Current Outcome `json:"current"`
}

func (ProgressEvent) Kind() string { return "progress" }

type FinishEvent struct {
	Counts
	Cancelled bool `json:"cancelled,omitempty"`
}

func (FinishEvent) Kind() string { return "finish" }
