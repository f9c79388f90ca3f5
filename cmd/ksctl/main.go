// Command ksctl runs feature extraction, template aggregation and decisions
// offline on JSON files.
package main

import "os"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
