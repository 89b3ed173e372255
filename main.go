// The main package for the hnarchiver executable.
package main

import (
	"github.com/JakeFAU/hnarchiver/cmd"
)

func main() {
	cmd.Execute()
}
