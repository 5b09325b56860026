package main

import (
	"github.com/evrins/wsterm/cmd"
)

func main() {
	cmd.Execute()
}
