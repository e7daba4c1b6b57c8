package main

import "comic-deal-alerts/internal/cli"

func main() {
	cli.Execute()
}
