package main

import "coinpulse/internal/cli"

func main() {
	cli.Execute()
}
