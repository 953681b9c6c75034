package main

import (
	"passnice/cmd/passnice/commands"
	"passnice/pkg/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
