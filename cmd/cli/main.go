package main

import "possync/cmd/cli/command"

func main() {
	command.Execute()
}
