// Command metacluster reduces a set of base clusters into a small hierarchy
// of LLM-named meta-clusters and inspects stored results.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
