package main

import (
	"fmt"
	"io"

	"golang.org/x/term"
)

// isTTY returns true if the given file descriptor is a terminal.
func isTTY(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

// printBanner prints the gopgmgr ASCII art banner. When useColor is true,
// each line gets its own ANSI color.
func printBanner(w io.Writer, useColor bool) {
	lines := []string{
		`                                                `,
		`   __ _  ___  _ __   __ _ _ __ ___   __ _ _ __  `,
		`  / _' |/ _ \| '_ \ / _' | '_ ' _ \ / _' | '__| `,
		` | (_| | (_) | |_) | (_| | | | | | | (_| | |    `,
		`  \__, |\___/| .__/ \__, |_| |_| |_|\__, |_|    `,
		`  |___/      |_|    |___/           |___/       `,
		`                                                `,
	}

	if !useColor {
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
		return
	}

	// green to blue
	colors := []string{
		"\033[1;32m",
		"\033[1;32m",
		"\033[1;92m",
		"\033[1;36m",
		"\033[1;34m",
		"\033[1;94m",
		"\033[0m",
	}
	for i, line := range lines {
		fmt.Fprintf(w, "%s%s\033[0m\n", colors[i%len(colors)], line)
	}
}
