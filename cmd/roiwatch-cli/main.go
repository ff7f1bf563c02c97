// Package main is the roiwatch control CLI. It talks to a running roiwatch
// over the gRPC Control service.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newApp(dialControl).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "roiwatch-cli:", err)
		os.Exit(1)
	}
}
