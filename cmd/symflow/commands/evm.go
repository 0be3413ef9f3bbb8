package commands

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"symflow/internal/evm"
)

var evmCmd = &cobra.Command{
	Use:   "evm (--code <file> | --hex <bytecode>)",
	Short: "Analyse EVM bytecode",
	Long: `Builds the control-flow graph of EVM runtime bytecode from offset 0. In
symbolic mode jump targets are resolved through the data-flow graph; in static
mode only PUSH immediately followed by JUMP or JUMPI is resolved.

--code accepts a file of hex text (optionally 0x-prefixed) or raw bytes.`,
	Args: cobra.NoArgs,
	RunE: runEVM,
}

func init() {
	evmCmd.Flags().String("code", "", "file containing bytecode")
	evmCmd.Flags().String("hex", "", "bytecode as a hex string")
	evmCmd.Flags().Int("trace-budget", 0, "producer chain limit per jump target (default from config)")
	evmCmd.Flags().Bool("listing", false, "print the disassembly instead of a graph")
	addGraphFlags(evmCmd)
}

func runEVM(cmd *cobra.Command, _ []string) error {
	codePath, _ := cmd.Flags().GetString("code")
	hexStr, _ := cmd.Flags().GetString("hex")

	var (
		code []byte
		name string
		err  error
	)
	switch {
	case codePath != "" && hexStr != "":
		return errors.New("--code and --hex are mutually exclusive")
	case codePath != "":
		name = strings.TrimSuffix(filepath.Base(codePath), filepath.Ext(codePath))
		code, err = readBytecode(codePath)
	case hexStr != "":
		name = "bytecode"
		code, err = decodeHex(hexStr)
	default:
		return errors.New("--code or --hex is required")
	}
	if err != nil {
		return err
	}

	if listing, _ := cmd.Flags().GetBool("listing"); listing {
		_, err := fmt.Fprint(cmd.OutOrStdout(), evm.Format(evm.Decode(code)))
		return err
	}

	static, err := staticMode(cmd)
	if err != nil {
		return err
	}
	out, err := graphOptions(cmd)
	if err != nil {
		return err
	}
	budget := conf.TraceBudget
	if cmd.Flags().Changed("trace-budget") {
		budget, _ = cmd.Flags().GetInt("trace-budget")
	}

	p, err := evm.Analyze(code, evm.Options{
		Static:      static,
		MaxSteps:    conf.MaxSteps,
		TraceBudget: budget,
		Logger:      log,
	})
	if err != nil {
		return err
	}
	path, err := emitGraph(cmd.OutOrStdout(), out, name, p.Graph, p.DataFlow, evm.Instruction.String, evmCallee)
	if err != nil {
		return err
	}

	ev := log.Info().Int("bytes", len(code)).Int("instructions", len(p.Instructions)).
		Int("blocks", p.Graph.Len()).Int("edges", len(p.Graph.Edges()))
	if loops, err := p.Graph.Loops(); err == nil {
		ev = ev.Int("loops", len(loops))
	}
	if path != "" {
		ev = ev.Str("wrote", path)
	}
	ev.Msg("analysed")
	return nil
}

// evmCallee names message calls and contract creations.
func evmCallee(in evm.Instruction) string {
	switch in.Op {
	case evm.CALL, evm.CALLCODE, evm.DELEGATECALL, evm.STATICCALL, evm.CREATE, evm.CREATE2:
		return in.Op.String()
	}
	return ""
}

// readBytecode reads a file of hex text, or raw bytes when it is not hex.
func readBytecode(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if code, err := decodeHex(string(data)); err == nil {
		return code, nil
	}
	return data, nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	code, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("hex bytecode: %w", err)
	}
	return code, nil
}
