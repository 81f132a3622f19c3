// Midnight explorer data service.
package main

import (
	"github.com/longphanquangminh/midnight-explorer/cmd"
)

func main() {
	cmd.Execute()
}
