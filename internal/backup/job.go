package backup

import "fmt"

// JobState is a step in the life of one archive job.
type JobState string

const (
	StatePending        JobState = "pending"
	StateArchiving      JobState = "archiving"
	StateArchiveFailed  JobState = "archive_failed"
	StateArchived       JobState = "archived"
	StateTransferring   JobState = "transferring"
	StateTransferFailed JobState = "transfer_failed"
	StateTransferred    JobState = "transferred"
	StateCleaning       JobState = "cleaning"
	StateDone           JobState = "done"
)

var jobTransitions = map[JobState][]JobState{
	StatePending:        {StateArchiving},
	StateArchiving:      {StateArchiveFailed, StateArchived},
	StateArchiveFailed:  {StateCleaning},
	StateArchived:       {StateTransferring},
	StateTransferring:   {StateTransferFailed, StateTransferred},
	StateTransferFailed: {StateCleaning},
	StateTransferred:    {StateCleaning},
	StateCleaning:       {StateDone},
}

// Job is the ephemeral unit of work for one child directory. It exists
// only for the duration of one archive, transfer and cleanup cycle.
type Job struct {
	Host     string
	Parent   string
	Child    string
	TempPath string

	state   JobState
	history []JobState
}

func newJob(host, parent, child, tempPath string) *Job {
	return &Job{
		Host:     host,
		Parent:   parent,
		Child:    child,
		TempPath: tempPath,
		state:    StatePending,
		history:  []JobState{StatePending},
	}
}

// Ref identifies the job in errors and logs.
func (j *Job) Ref() JobRef {
	return JobRef{Host: j.Host, Parent: j.Parent, Child: j.Child}
}

// State returns the current state.
func (j *Job) State() JobState { return j.state }

// History returns every state the job passed through, in order.
func (j *Job) History() []JobState {
	out := make([]JobState, len(j.history))
	copy(out, j.history)
	return out
}

// advance moves the job to next. Illegal transitions are programming
// errors and panic.
func (j *Job) advance(next JobState) {
	for _, allowed := range jobTransitions[j.state] {
		if allowed == next {
			j.state = next
			j.history = append(j.history, next)
			return
		}
	}
	panic(fmt.Sprintf("backup: illegal job transition %s -> %s", j.state, next))
}
