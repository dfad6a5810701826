package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/taskq/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	Database   string
	User       string
	Groups     []string
	Verbose    bool
	Format     string // "json" | "text"

	// Config is resolved from the file, environment and flags before any
	// subcommand runs.
	Config *config.Config
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the taskq CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "taskq",
		Short: "taskq - query and maintain human tasks",
		Long: `Query human tasks with composable criteria and keep them consistent
under concurrent edits.

Settings are read from --config (YAML), then TASKQ_* environment variables,
then the global flags below.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.resolve(cmd)
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "config file (YAML)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database")
	cmd.PersistentFlags().StringVar(&opts.User, "user", "", "principal queries and changes run as")
	cmd.PersistentFlags().StringSliceVar(&opts.Groups, "groups", nil, "groups of the principal (replaces stored memberships)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	// Add subcommands
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewSQLCommand(opts))
	cmd.AddCommand(NewNativeCommand(opts))
	cmd.AddCommand(NewTaskCommand(opts))

	return cmd
}

// resolve loads the configuration with explicitly set flags as overrides
// and installs the logger.
func (opts *RootOptions) resolve(cmd *cobra.Command) error {
	if !isValidFormat(opts.Format) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
	}

	flags := cmd.Flags()
	overrides := map[string]any{}
	if flags.Changed("db") {
		overrides[config.KeyDatabase] = opts.Database
	}
	if flags.Changed("user") {
		overrides[config.KeyPrincipal] = opts.User
	}
	if flags.Changed("groups") {
		overrides[config.KeyGroups] = opts.Groups
	}
	if flags.Changed("format") {
		overrides[config.KeyFormat] = opts.Format
	}
	if opts.Verbose {
		overrides[config.KeyLogLevel] = "debug"
	}

	cfg, err := config.Load(opts.ConfigFile, overrides)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	opts.Config = cfg
	opts.Format = cfg.Format

	level, err := cfg.Level()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	opts.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// Execute runs the CLI with args and returns the process exit code. Errors
// are reported on stderr in the selected format.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	format := "text"
	if f := cmd.PersistentFlags().Lookup("format"); f != nil && isValidFormat(f.Value.String()) {
		format = f.Value.String()
	}
	// Flag and argument errors from cobra carry no exit code.
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		exitErr = fail("command failed", err).(*ExitError)
		err = exitErr
	}

	out := &OutputFormatter{Format: format, Writer: stderr}
	var details any
	var diverged *CrosscheckError
	if errors.As(err, &diverged) {
		details = diverged
	}
	_ = out.Error(ErrorCode(err), err.Error(), details)
	return exitErr.Code
}
