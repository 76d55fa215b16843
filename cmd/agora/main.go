// Package main is the single-binary entrypoint for Agora.
package main

import "github.com/agoralabs/agora/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
