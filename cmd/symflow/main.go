// Command symflow builds control-flow and data-flow graphs of machine code.
package main

import (
	"fmt"
	"os"

	"symflow/cmd/symflow/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
