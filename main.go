package main

import "github.com/zapdeskhq/zapdesk/cmd"

func main() {
	cmd.Execute()
}
