package main

import (
	"log/slog"

	"github.com/RealZimboGuy/convoflow/pkg/convoflow"
)

func main() {

	//you may do your own logger setup here or use this default one with slog
	convoflow.SetupLogger()

	if err := convoflow.Start(nil); err != nil {
		slog.Error("Engine exited with error", "error", err)
	}
}
