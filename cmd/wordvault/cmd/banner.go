package cmd

import (
	"fmt"
	"io"
)

const banner = `
 __        __            ___     __          _ _   
 \ \      / /__  _ __ __| \ \   / /_ _ _   _| | |_ 
  \ \ /\ / / _ \| '__/ _` + "`" + ` |\ \ / / _` + "`" + ` | | | | | __|
   \ V  V / (_) | | | (_| | \ V / (_| | |_| | | |_ 
    \_/\_/ \___/|_|  \__,_|  \_/ \__,_|\__,_|_|\__|
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Zero-Knowledge Password Vault - Version %s\x1b[0m\n\n", Version)
}
