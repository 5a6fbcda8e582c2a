//go:build !testcoverage

package main

import (
	"fmt"
	"os"
)

func main() {
	cfg := DefaultConfig()
	cfg.DotenvErr = loadDotenv()

	if err := run(os.Args, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "nwh: %v\n", err)
		os.Exit(1)
	}
}
