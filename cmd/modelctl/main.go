// modelctl validates and edits the model server configuration and inspects
// a running server.
package main

import (
	"fmt"
	"os"

	"github.com/labelkit/model-server/cmd/modelctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
