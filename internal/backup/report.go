package backup

import (
	"fmt"
	"io"
	"time"

	"github.com/TheGojiOG/sshbackup/internal/config"
	"github.com/dustin/go-humanize"
)

// Process exit codes derived from a run.
const (
	ExitOK          = 0
	ExitFatal       = 1
	ExitJobFailures = 2
)

// JobResult is the recorded outcome of one (host, parent, child) job.
type JobResult struct {
	Host       string
	Parent     string
	Child      string
	TempPath   string
	State      JobState
	History    []JobState
	ExitStatus int
	Err        error
	CleanupErr error
	Artifact   *Artifact
	Warnings   []string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Succeeded reports whether the job produced an artifact.
func (r JobResult) Succeeded() bool {
	return r.Err == nil && r.Artifact != nil
}

// HostReport holds the outcome for one declared target.
type HostReport struct {
	Name       string
	Hostname   string
	ConnectErr error
	Jobs       []JobResult
	StartedAt  time.Time
	FinishedAt time.Time
}

// Failed reports whether the host could not be reached or any job failed.
func (h HostReport) Failed() bool {
	if h.ConnectErr != nil {
		return true
	}
	for _, job := range h.Jobs {
		if !job.Succeeded() {
			return true
		}
	}
	return false
}

// RunReport is the outcome of one run of the backup plan.
type RunReport struct {
	ID          string
	Destination string
	StartedAt   time.Time
	FinishedAt  time.Time
	Hosts       []HostReport
}

// Summary counts outcomes across a run.
type Summary struct {
	Hosts           int
	HostsFailed     int
	Jobs            int
	JobsSucceeded   int
	JobsFailed      int
	CleanupWarnings int
	Collisions      int
	Bytes           int64
}

// Summary tallies the report.
func (r *RunReport) Summary() Summary {
	var s Summary
	for _, host := range r.Hosts {
		s.Hosts++
		if host.Failed() {
			s.HostsFailed++
		}
		for _, job := range host.Jobs {
			s.Jobs++
			if job.Succeeded() {
				s.JobsSucceeded++
				s.Bytes += job.Artifact.SizeBytes
				if job.Artifact.Overwrote {
					s.Collisions++
				}
			} else {
				s.JobsFailed++
			}
			if job.CleanupErr != nil {
				s.CleanupWarnings++
			}
		}
	}
	return s
}

// Failed reports whether any host or job failed.
func (r *RunReport) Failed() bool {
	for _, host := range r.Hosts {
		if host.Failed() {
			return true
		}
	}
	return false
}

// ExitCode maps the run outcome to a process exit code under policy.
// Lenient runs exit 0 even when jobs failed.
func (r *RunReport) ExitCode(policy string) int {
	if policy == config.ExitPolicyStrict && r.Failed() {
		return ExitJobFailures
	}
	return ExitOK
}

// WriteSummary prints a human readable summary of the run.
func (r *RunReport) WriteSummary(w io.Writer) {
	s := r.Summary()
	fmt.Fprintf(w, "run %s: %d/%d jobs succeeded on %d hosts (%s) in %s\n",
		r.ID, s.JobsSucceeded, s.Jobs, s.Hosts,
		humanize.IBytes(uint64(s.Bytes)),
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))

	for _, host := range r.Hosts {
		if host.ConnectErr != nil {
			fmt.Fprintf(w, "  %s: SKIPPED %v\n", host.Name, host.ConnectErr)
			continue
		}
		for _, job := range host.Jobs {
			switch {
			case job.Succeeded():
				note := ""
				if job.Artifact.Overwrote {
					note = " (overwrote existing artifact)"
				}
				fmt.Fprintf(w, "  %s %s/%s: ok %s %s%s\n", host.Name, job.Parent, job.Child,
					job.Artifact.Name, humanize.IBytes(uint64(job.Artifact.SizeBytes)), note)
			default:
				fmt.Fprintf(w, "  %s %s/%s: FAILED %v\n", host.Name, job.Parent, job.Child, job.Err)
			}
			if job.CleanupErr != nil {
				fmt.Fprintf(w, "  %s %s/%s: warning %v\n", host.Name, job.Parent, job.Child, job.CleanupErr)
			}
			for _, warning := range job.Warnings {
				fmt.Fprintf(w, "  %s %s/%s: warning %s\n", host.Name, job.Parent, job.Child, warning)
			}
		}
	}
}
