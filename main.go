package main

import (
	"github.com/refpages/apidelta/cmd"
)

func main() {
	cmd.Execute()
}
