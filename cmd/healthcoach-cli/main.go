package main

import "healthcoach/cli/cmd"

func main() {
	cmd.Execute()
}
