// Command incinerator replays class-loader lifecycles against the
// reclamation engine.
//
//	incinerator simulate scenario.yaml
//	incinerator monitor scenario.yaml
//	incinerator config
//	incinerator version
package main

import (
	"fmt"
	"os"

	"github.com/dc0d/onexit"
)

func main() {
	// ForceExit runs the registered exit actions, such as the logger flush.
	onexit.ForceExit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := newRootCommand()
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
