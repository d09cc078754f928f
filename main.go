// Command cagehost is the entrypoint binary; all real work happens in
// package cmd, following the teacher's thin-main/fat-cmd convention.
package main

import (
	"fmt"
	"os"

	"github.com/nextlevelbuilder/cagehost/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
