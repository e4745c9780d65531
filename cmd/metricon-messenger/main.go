// Command metricon-messenger runs the multi-tenant messaging session service.
package main

import "github.com/Sayan19951995/metricon-sub002/cmd/metricon-messenger/cmd"

func main() {
	cmd.Execute()
}
