// Command radarsnap captures, stamps and serves the latest weather radar snapshot.
package main

import "github.com/JakeFAU/radar-snapshot/cmd"

func main() {
	cmd.Execute()
}
