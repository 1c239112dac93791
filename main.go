// The main package for the stubborn executable.
package main

import (
	"github.com/tmorandi/stubborn/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
