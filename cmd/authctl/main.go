package main

import "storefront/cmd/authctl/cmd"

func main() {
	cmd.Execute()
}
