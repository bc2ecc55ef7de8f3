package main

import "github.com/modvault/modvault/cmd/modupd/cmd"

func main() {
	cmd.Execute()
}
