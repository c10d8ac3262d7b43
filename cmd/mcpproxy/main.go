// Command mcpproxy aggregates a set of configured MCP servers behind a
// single prefixed-namespace MCP endpoint (spec.md).
package main

import (
	"fmt"
	"os"

	cmdpkg "github.com/mcpproxy/mcpproxy/cmd/mcpproxy/cmd"
)

func main() {
	if err := cmdpkg.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
