// The main package for the manganews-pipeline executable.
package main

import (
	"github.com/manganews/pipeline/cmd"
)

func main() {
	cmd.Execute()
}
