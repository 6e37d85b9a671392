package main

import (
	"fmt"
	"os"

	"github.com/rendis/dsmacro/pkg/schema"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if schema.IsActionError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
