package main

import (
	"context"
	"os"

	"github.com/paperbench/paperbench/cmd/root"
)

func main() {
	ctx := context.Background()
	os.Exit(root.Execute(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]...))
}
