// Command insightsctl manages the metrics store and answers questions from
// the terminal
package main

import "os"

func main() {
	os.Exit(Execute())
}
