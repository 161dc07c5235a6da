// Command openqr captures QR scanner input and records validated URLs.
package main

import (
	"os"

	"openqr/internal/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := cli.Run(version); err != nil {
		os.Exit(1)
	}
}
