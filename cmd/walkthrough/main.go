// Command walkthrough uploads photos to a delorean server, waits for their
// stories and walks the resulting tunnel headlessly, saving a map of the
// final frame.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
