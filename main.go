package main

import "custodychain/cmd"

func main() {
	cmd.Execute()
}
