// Command kektortree serves, queries and maintains a cosine similarity tree.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
