package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/TheGojiOG/sshbackup/internal/backup"
	"github.com/TheGojiOG/sshbackup/internal/config"
	"github.com/spf13/cobra"
)

// deps holds collaborators that tests replace.
type deps struct {
	stdin     io.Reader
	newDialer func(config.SSHConfig) backup.Dialer
}

func defaultDeps() deps {
	return deps{
		stdin: os.Stdin,
		newDialer: func(cfg config.SSHConfig) backup.Dialer {
			return backup.NewSSHDialer(cfg)
		},
	}
}

// NewRootCmd returns the root command of the sshbackup CLI.
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	return newRootCmd(stdout, stderr, defaultDeps())
}

func newRootCmd(stdout, stderr io.Writer, d deps) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "sshbackup -d <destination>",
		Short: "Archive remote directories over SSH into a local destination",
		Long: `sshbackup connects to every host declared in the targets file, archives each
child directory with tar on the remote side, downloads the archive over SFTP
into the destination directory and removes the remote scratch file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.configPath, _ = cmd.Flags().GetString("config")
			opts.parallelSet = cmd.Flags().Changed("parallel")
			return runBackup(cmd.Context(), stdout, stderr, d, opts)
		},
	}

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.PersistentFlags().String("config", "", "Path to config.yaml (defaults to $CONFIG_PATH or ./configs/config.yaml)")
	cmd.Flags().StringVarP(&opts.destination, "destination", "d", "", "Local directory artifacts are written to")
	cmd.Flags().StringVar(&opts.targetsFile, "targets", "", "Targets file (overrides backup.targets_file)")
	cmd.Flags().IntVar(&opts.parallel, "parallel", 1, "Number of hosts backed up concurrently")
	cmd.Flags().BoolVar(&opts.failOnError, "fail-on-error", false, "Exit with status 2 when any host or job failed")
	_ = cmd.MarkFlagRequired("destination")

	cmd.AddCommand(newHistoryCmd(stdout))
	cmd.AddCommand(newEncryptSecretCmd(stdout, d.stdin))
	cmd.AddCommand(newVersionCmd(stdout))

	return cmd
}

// exitError carries a process exit status out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// exitCode maps a command error to a process exit status.
func exitCode(err error) int {
	if err == nil {
		return backup.ExitOK
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	return backup.ExitFatal
}

// Execute runs the CLI with the process stdio and returns the exit status.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd(os.Stdout, os.Stderr)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return exitCode(err)
}
