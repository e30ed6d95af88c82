// Command bazaar simulates price negotiations between suppliers, buyers and
// their coalitions.
package main

import "github.com/talgya/bazaar/internal/cli"

func main() {
	cli.Execute()
}
