// The main package for the urlfetch executable.
package main

import (
	"github.com/JakeFAU/urlfetch/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
