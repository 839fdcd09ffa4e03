// Command callctl runs single dispatcher ticks and pushes client outcomes
// for cron deployments and operators.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "callctl:", err)
		os.Exit(1)
	}
}
