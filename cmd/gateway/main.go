package main

import "github.com/GoPolymarket/trading-gateway/internal/cli"

func main() {
	cli.Execute()
}
