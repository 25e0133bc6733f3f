package main

import "github.com/guildhall-dao/guildhall/internal/cli"

func main() {
	cli.Execute()
}
