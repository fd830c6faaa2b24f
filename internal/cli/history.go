package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/TheGojiOG/sshbackup/internal/database"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newHistoryCmd(stdout io.Writer) *cobra.Command {
	var (
		limit    int
		withJobs bool
		output   string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded backup runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if !cfg.Database.Enabled {
				return fmt.Errorf("run history is disabled (database.enabled is false)")
			}

			db, err := openHistory(cmd.Context(), cfg.Database.Path)
			if err != nil {
				return err
			}
			defer db.Close()
			store := database.NewRunStore(db)

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			jobs := map[string][]database.JobRecord{}
			if withJobs {
				for _, run := range runs {
					records, err := store.ListJobs(cmd.Context(), run.ID)
					if err != nil {
						return err
					}
					jobs[run.ID] = records
				}
			}

			switch output {
			case "json":
				return renderHistoryJSON(stdout, runs, jobs, withJobs)
			case "table", "":
				return renderHistoryTable(stdout, runs, jobs)
			default:
				return fmt.Errorf("unsupported --output: %s", output)
			}
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to show")
	cmd.Flags().BoolVar(&withJobs, "jobs", false, "Include per-job outcomes")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table|json")
	return cmd
}

type historyEntry struct {
	database.RunRecord
	Jobs []database.JobRecord `json:"jobs,omitempty"`
}

func renderHistoryJSON(w io.Writer, runs []database.RunRecord, jobs map[string][]database.JobRecord, withJobs bool) error {
	entries := make([]historyEntry, 0, len(runs))
	for _, run := range runs {
		entry := historyEntry{RunRecord: run}
		if withJobs {
			entry.Jobs = jobs[run.ID]
		}
		entries = append(entries, entry)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

func renderHistoryTable(w io.Writer, runs []database.RunRecord, jobs map[string][]database.JobRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tDURATION\tHOSTS\tJOBS\tFAILED\tSIZE\tEXIT")
	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d/%d\t%d\t%s\t%d\n",
			run.ID,
			run.StartedAt.Local().Format(time.DateTime),
			run.FinishedAt.Sub(run.StartedAt).Round(time.Second),
			run.Summary.Hosts,
			run.Summary.JobsSucceeded,
			run.Summary.Jobs,
			run.Summary.JobsFailed,
			humanize.IBytes(uint64(run.Summary.Bytes)),
			run.ExitCode,
		)
		for _, job := range jobs[run.ID] {
			detail := job.Artifact
			if job.Error != "" {
				detail = job.Error
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t\t\t\t\n", job.Host, joinJobPath(job), job.Status, detail)
		}
	}
	return tw.Flush()
}

func joinJobPath(job database.JobRecord) string {
	if job.Child == "" {
		return "-"
	}
	return job.Parent + "/" + job.Child
}
