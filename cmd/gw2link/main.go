package main

import "github.com/jmcleod/gw2link/cmd/gw2link/cmd"

func main() {
	cmd.Execute()
}
