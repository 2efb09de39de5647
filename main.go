// The main package for the branddash executable.
package main

import (
	"github.com/JakeFAU/brand-dashboard/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
