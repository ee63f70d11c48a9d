// The main package for the trainstatus executable.
package main

import (
	"github.com/JakeFAU/training-status/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
