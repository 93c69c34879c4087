package main

import "github.com/chalkline-ai/chalkline/cmd/chalkline/cmd"

func main() {
	cmd.Execute()
}
