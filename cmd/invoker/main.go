// invoker is the command-line front end described in §6: a single command
// that runs one process group under resource limits and prints its result.
//
// Like invoker-ctl, this binary doubles as its own re-exec target for the
// supervision loop's child-init step.
package main

import (
	"os"

	"github.com/elispeigel/invoker/internal/container/process"
	"github.com/elispeigel/invoker/internal/invokercli"
)

func main() {
	if process.IsChildInit(os.Args) {
		process.RunChildInit()
		return
	}

	cmd := invokercli.NewRootCmd()
	os.Exit(invokercli.Execute(cmd))
}
