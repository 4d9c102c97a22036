// The main package for the webextract executable.
package main

import (
	"github.com/webextract/webextract/cmd"
)

func main() {
	cmd.Execute()
}
