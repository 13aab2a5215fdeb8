package main

import "github.com/papapumpkin/optifix/cmd"

func main() {
	cmd.Execute()
}
