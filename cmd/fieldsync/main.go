// Command fieldsync is the offline-first field operations client.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/fieldsync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "fieldsync:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
