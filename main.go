package main

import "reportpilot/cmd"

func main() {
	cmd.Execute()
}
