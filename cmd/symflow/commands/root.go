// Package commands provides the CLI commands for symflow.
package commands

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"symflow/internal/config"
	"symflow/internal/logging"
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "symflow",
	Short: "symflow - control-flow and data-flow graphs from machine code",
	Long: `symflow walks machine code from an entry point, joining abstract stack and
register states until a fixpoint, and emits the resulting basic-block graph
and data-flow graph.

Commands:
  arm64       Analyse ARM64 functions from an ELF file or raw code
  evm         Analyse EVM bytecode
  render      Render call graph and HTML summary from arm64 --all output

Use "symflow [command] --help" for more information about a command.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Loaded by setup before any command runs.
var (
	conf *config.Config
	log  zerolog.Logger
)

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return RootCmd.Execute()
}

func setup(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	c, err := config.Load(path)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("verbose") {
		c.Verbose, _ = cmd.Flags().GetBool("verbose")
	}
	if cmd.Flags().Changed("max-steps") {
		c.MaxSteps, _ = cmd.Flags().GetInt("max-steps")
	}
	conf = c
	if jsonLog, _ := cmd.Flags().GetBool("log-json"); jsonLog {
		log = logging.NewJSON(cmd.ErrOrStderr(), c.Verbose)
	} else {
		log = logging.New(cmd.ErrOrStderr(), c.Verbose)
	}
	return nil
}

func init() {
	RootCmd.PersistentFlags().String("config", "", "config file (default: ~/.symflow/config.yaml, ./.symflow.yaml)")
	RootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	RootCmd.PersistentFlags().Int("max-steps", 0, "traversal step limit per graph")
	RootCmd.PersistentFlags().Bool("log-json", false, "log JSON lines instead of console text")

	RootCmd.AddCommand(arm64Cmd)
	RootCmd.AddCommand(evmCmd)
	RootCmd.AddCommand(renderCmd)
}
