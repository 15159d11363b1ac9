// Command fetchd is the CLI front end for the privacy-aware download
// engine. It wires the settings store, the settings-backed privacy
// provider and the engine together and exposes add/pause/resume/cancel/
// rm/ls verbs over them as a cobra command tree.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
