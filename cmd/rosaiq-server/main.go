package main

import "github.com/NASA-0007/Rosaiq-Trial/internal/cli"

func main() {
	cli.Execute()
}
