package main

import (
	"os"

	"github.com/wonny/optchain/cmd/optchain/commands"
)

// main is the entry point for the optchain CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/optchain [command]
func main() {
	os.Exit(commands.Execute())
}
