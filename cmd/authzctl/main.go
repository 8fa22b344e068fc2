package main

import (
	"os"

	"github.com/odyssey-erp/odyssey-authz/cmd/authzctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
