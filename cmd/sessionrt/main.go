// Command sessionrt is the session runtime server binary.
package main

import "github.com/agentserver/sessionrt/cmd"

func main() {
	cmd.Execute()
}
