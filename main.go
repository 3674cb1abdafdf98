// The main package for the stockcrawler executable.
package main

import (
	"github.com/JakeFAU/stockcrawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
