// Command ssdsim runs the SSD flash translation layer simulator.
package main

import "github.com/sarchlab/ssdsim/ssdsim/cmd"

func main() {
	cmd.Execute()
}
