package main

import "github.com/ospbot/ospbot/cmd"

func main() {
	cmd.Execute()
}
