// Command xrps runs and inspects XRPS burst-transmission coordinators.
package main

import "github.com/sarchlab/xrps/cmd/xrps/cmd"

func main() {
	cmd.Execute()
}
