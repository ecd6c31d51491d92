// Command agentcrew runs goals end to end with a crew of cooperating agents.
package main

func main() {
	Execute()
}
