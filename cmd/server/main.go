// Command docsign runs the signing service and its maintenance tasks.
package main

import (
	"io"
	"os"
)

var logOutput io.Writer = os.Stdout

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
