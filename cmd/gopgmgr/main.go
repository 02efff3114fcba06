package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runRun()
	case "serve":
		err = runServe()
	case "configure":
		err = runConfigure()
	case "doctor":
		err = runDoctor()
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("gopgmgr - category-gated PostgreSQL session manager")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  gopgmgr run [-file statements.json]   Run a statement batch in one transaction")
	fmt.Println("  gopgmgr serve                         Start the MCP server")
	fmt.Println("  gopgmgr configure                     Run interactive configuration wizard")
	fmt.Println("  gopgmgr doctor                        Validate configuration and print agent snippets")
	fmt.Println("  gopgmgr --help                        Show this help message")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  GOPGMGR_CONFIG_PATH   Config file (default .gopgmgr/config.json)")
	fmt.Println("  GOPGMGR_PASSWORD      Database password (prompted on a terminal when unset)")
}
