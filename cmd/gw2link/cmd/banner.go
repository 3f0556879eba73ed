package cmd

import (
	"fmt"
	"io"
)

const banner = `
   ______      _____   __    _       __  
  / ____/    _|__  /  / /   (_)___  / /__
 / / __| | /| / / /  / /   / / __ \/ //_/
/ /_/ /| |/ |/ / /__/ /___/ / / / / ,<   
\____/ |__/|__/____/_____/_/_/ /_/_/|_|  
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[31m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Guild Wars 2 account link - Version %s\x1b[0m\n\n", Version)
}
