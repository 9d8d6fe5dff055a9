package main

import (
	"market-trend-alerts/internal/cli"
)

func main() {
	cli.Execute()
}
