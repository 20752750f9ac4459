package main

import "github.com/davebream/skycoord/cmd"

func main() {
	cmd.Execute()
}
