// Command gatewayctl sends one-shot payments and refunds through the gateway
// dispatcher and summarizes audit logs.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(defaultDispatcher).Execute(); err != nil {
		os.Exit(1)
	}
}
