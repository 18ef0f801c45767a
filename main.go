// The main package for the site-ingest executable.
package main

import (
	"github.com/JakeFAU/site-ingest/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
