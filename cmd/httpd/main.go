// httpd is a privilege-separated HTTP/1.x file server. One binary serves
// four roles: run without -p it is the coordinating manager, which
// re-executes itself to produce the client, crypto, and filesystem
// workers. Workers inherit a seqpacket to the manager at fd 3 and receive
// everything else — sockets, files, configuration — over it.
package main

import (
	"fmt"
	"os"

	"github.com/infodancer/httpd/internal/config"
)

func main() {
	flags := config.ParseFlags()

	switch flags.Role {
	case "":
		runManager(flags)
	case "client":
		runClient(flags)
	case "crypto":
		runCrypto(flags)
	case "filesystem":
		runFilesystem(flags)
	default:
		fmt.Fprintf(os.Stderr, "unknown role %q (want client, crypto, or filesystem)\n", flags.Role)
		os.Exit(1)
	}
}

// loadConfig loads and validates the configuration for any role. Workers
// call this before their privilege drop; the file is unreachable after.
func loadConfig(flags *config.Flags) config.Config {
	cfg, err := config.LoadWithFlags(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
