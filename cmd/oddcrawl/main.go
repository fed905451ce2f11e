package main

import (
	cmd "github.com/arlowright/oddcrawl/internal/cli"
)

func main() {
	cmd.Execute()
}
