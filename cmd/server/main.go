// Command server runs the deception detection API.
//
// Usage:
//
//	server [serve] [--config file] [--addr :5000]
//	server fetch                 download models into the cache
//	server features <audio-file> print the MFCC feature vector
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
