// trackctl is the operator CLI: ad-hoc searches, cache sweeps, download
// history and streaming token inspection.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
