package constant

type SessionState string

const (
	SessionStateInitializing SessionState = "INITIALIZING"
	SessionStateRecording    SessionState = "RECORDING"
	SessionStateProcessing   SessionState = "PROCESSING"
	SessionStateCompleted    SessionState = "COMPLETED"
	SessionStateFailed       SessionState = "FAILED"
)

// Terminal reports whether no further transitions are permitted from s.
func (s SessionState) Terminal() bool {
	return s == SessionStateCompleted || s == SessionStateFailed
}

type JobStatus string

const (
	JobStatusQueued     JobStatus = "QUEUED"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

type JobPriority string

const (
	JobPriorityHigh   JobPriority = "HIGH"
	JobPriorityNormal JobPriority = "NORMAL"
	JobPriorityLow    JobPriority = "LOW"
)

// Rank orders priorities for the dispatcher: lower rank dequeues first.
func (p JobPriority) Rank() int {
	switch p {
	case JobPriorityHigh:
		return 0
	case JobPriorityNormal:
		return 1
	default:
		return 2
	}
}

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}
