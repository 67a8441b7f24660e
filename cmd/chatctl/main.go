// Package main provides the entry point for the chatctl terminal client.
package main

import (
	"fmt"
	"os"

	"go-livechat/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
