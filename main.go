// The main package for the news extractor executable.
package main

import (
	"github.com/JakeFAU/realtime-news-extractor/cmd"
)

func main() {
	cmd.Execute()
}
