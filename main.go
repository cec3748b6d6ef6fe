// Command lcfs mounts and manages a layered, copy-on-write block
// filesystem. See cmd/root.go for the command surface.
package main

import "github.com/timober/lcfs/cmd"

func main() {
	cmd.Execute()
}
