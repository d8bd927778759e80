package main

import "github.com/jmcleod/sessiongate/cmd/sessiongate/cmd"

func main() {
	cmd.Execute()
}
