package main

import "github.com/featherlabs/featherbot/cmd"

func main() {
	cmd.Execute()
}
