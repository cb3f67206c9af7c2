// Command installforge is the single-binary installer/maintenance-tool/
// updater front end (spec.md §6.3): one appended-payload executable whose
// behavior is selected by flags, not subcommands, mirroring how the wire
// format itself treats installer/uninstaller/updater as three markers on
// the same container rather than three programs. The command-tree
// plumbing — a pflag.Value log-level flag, PersistentPreRunE wiring
// log/slog, one file per flag group — follows the teacher's
// cmd/tomei/root.go layout even though the flag surface itself comes
// straight from spec.md §6.3, not from tomei.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	insterrors "github.com/installforge/core/internal/errors"
)

// logLevelFlag implements pflag.Value for slog.Level, the same toggle the
// teacher's cmd/tomei/root.go registers under --log-level.
type logLevelFlag struct {
	level slog.Level
}

func (f *logLevelFlag) String() string { return strings.ToLower(f.level.String()) }
func (f *logLevelFlag) Type() string   { return "string" }
func (f *logLevelFlag) Set(s string) error {
	switch strings.ToLower(s) {
	case "debug":
		f.level = slog.LevelDebug
	case "info":
		f.level = slog.LevelInfo
	case "warn":
		f.level = slog.LevelWarn
	case "error":
		f.level = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q (valid: debug, info, warn, error)", s)
	}
	return nil
}

var (
	globalLogLevel = &logLevelFlag{level: slog.LevelWarn}

	flagVersion       bool
	flagVerbose       bool
	flagCheckUpdates  bool
	flagRunOperation  string
	flagUndoOperation string
	flagUpdateBase    string
	flagDumpBinary    bool
	flagDumpOutput    string
	flagDumpInput     string
	flagBinaryData    string
	flagAddRepo       string
	flagAddTempRepo   string
	flagSetTempRepo   string
	flagScript        string
	flagNoForce       bool
	flagOfflineRepo   bool
	flagStartServer   bool
)

var version = "dev" // overridden at build time via -ldflags

var rootCmd = &cobra.Command{
	Use:           "installforge",
	Short:         "Appended-payload installer, maintenance tool, and updater",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ArbitraryArgs,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		if flagVerbose {
			globalLogLevel.level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: globalLogLevel.level})))
		return nil
	},
	RunE: dispatch,
}

func init() {
	f := rootCmd.Flags()
	f.Var(globalLogLevel, "log-level", "Log level (debug, info, warn, error)")
	f.BoolVarP(&flagVerbose, "verbose", "v", false, "Enable tracing")
	f.BoolVar(&flagVersion, "version", false, "Print the version banner and exit")
	f.BoolVar(&flagCheckUpdates, "checkupdates", false, "Check configured repositories for updates, headless")
	f.StringVar(&flagRunOperation, "runoperation", "", "Invoke a single registered operation: NAME [args...]")
	f.StringVar(&flagUndoOperation, "undooperation", "", "Undo a single registered operation: NAME [args...]")
	f.StringVar(&flagUpdateBase, "update-installerbase", "", "Embed a new installer stub at PATH and self-replace")
	f.BoolVar(&flagDumpBinary, "dump-binary-data", false, "Emit a local repository synthesized from the appended payload")
	f.StringVarP(&flagDumpOutput, "output", "o", "", "Output directory for --dump-binary-data")
	f.StringVarP(&flagDumpInput, "input", "i", "", "Input binary for --dump-binary-data (defaults to argv[0])")
	f.StringVar(&flagBinaryData, "binarydatafile", "", "Read the appended payload from PATH instead of argv[0]")
	f.StringVar(&flagAddRepo, "addRepository", "", "Comma-separated repository URLs to add permanently")
	f.StringVar(&flagAddTempRepo, "addTempRepository", "", "Comma-separated repository URLs to add for this run only")
	f.StringVar(&flagSetTempRepo, "setTempRepository", "", "Comma-separated repository URLs replacing the configured list for this run")
	f.StringVar(&flagScript, "script", "", "Load an automation script")
	f.BoolVar(&flagNoForce, "no-force-installations", false, "Treat forced components as user-selectable")
	f.BoolVar(&flagOfflineRepo, "create-offline-repository", false, "Emit a repository next to the installation for later offline updates")
	f.BoolVar(&flagStartServer, "startserver", false, "Serve the elevated-filesystem RPC: --startserver PORT KEY")
}

// dispatch picks the one action spec.md §6.3's flags request. The flags
// are mutually exclusive by convention (a real installer run is the
// fallback when none of them is set); the first one found wins, matching
// the source's own "first matching argument wins" command-line parser.
func dispatch(cmd *cobra.Command, args []string) error {
	switch {
	case flagVersion:
		fmt.Fprintf(cmd.OutOrStdout(), "installforge version %s\n", version)
		return nil
	case flagCheckUpdates:
		return runCheckUpdates(cmd)
	case flagRunOperation != "":
		return runRunOperation(cmd, flagRunOperation, args, false)
	case flagUndoOperation != "":
		return runRunOperation(cmd, flagUndoOperation, args, true)
	case flagUpdateBase != "":
		return runUpdateInstallerBase(cmd, flagUpdateBase)
	case flagDumpBinary:
		return runDumpBinaryData(cmd, flagDumpInput, flagDumpOutput)
	case flagAddRepo != "" || flagAddTempRepo != "" || flagSetTempRepo != "":
		return runRepositoryFlags(cmd)
	case flagStartServer:
		if len(args) < 2 {
			return fmt.Errorf("--startserver requires PORT and KEY")
		}
		return runStartServer(cmd, args[0], args[1])
	default:
		return runInstall(cmd, args)
	}
}

// payloadPath resolves which file's appended payload this invocation
// should read: --binarydatafile PATH if given, otherwise argv[0] itself
// (spec.md §6.3).
func payloadPath() string {
	if flagBinaryData != "" {
		return flagBinaryData
	}
	exe, err := os.Executable()
	if err != nil {
		return os.Args[0]
	}
	return exe
}

// exitCode maps a command error to spec.md §6.3's exit-code contract:
// 0 success, 1 failure, 2 user-cancel.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if insterrors.IsCanceled(err) {
		return 2
	}
	return 1
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "installforge: %v\n", err)
	}
	os.Exit(exitCode(err))
}
