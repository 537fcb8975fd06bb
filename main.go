// The main package for the tracker-mirror executable.
package main

import (
	"github.com/JakeFAU/tracker-mirror/cmd"
)

func main() {
	cmd.Execute()
}
