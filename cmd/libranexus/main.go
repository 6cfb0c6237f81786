// cmd/libranexus/main.go
package main

import (
	"fmt"
	"os"

	"github.com/jules-labs/libranexus/internal/cli"
)

func main() {
	if err := cli.NewRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "libranexus:", err)
		os.Exit(1)
	}
}
