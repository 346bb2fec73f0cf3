// Package main is the single-binary entrypoint for Parley.
package main

import "github.com/parley-ai/parley/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
