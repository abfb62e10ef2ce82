package main

import "github.com/jmcleod/wordvault/cmd/wordvault/cmd"

func main() {
	cmd.Execute()
}
