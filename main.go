package main

import (
	"github.com/ColonelBlimp/fatiguedetector/cmd"
	"github.com/ColonelBlimp/fatiguedetector/internal/recovery"
)

func main() {
	defer recovery.HandlePanic()
	cmd.Execute()
}
