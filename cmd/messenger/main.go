package main

import (
	"fmt"
	"os"

	"github.com/I0I-I0I/messenger-server/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
