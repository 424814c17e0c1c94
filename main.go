// The main package for the bookcatalog executable.
package main

import (
	"github.com/JakeFAU/book-catalog-pipeline/cmd"
)

func main() {
	cmd.Execute()
}
