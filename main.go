package main

import "gochat/cli"

func main() {
	cli.Execute()
}
