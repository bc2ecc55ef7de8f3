package main

import "github.com/modvault/modvault/cmd/modup/cmd"

func main() {
	cmd.Execute()
}
