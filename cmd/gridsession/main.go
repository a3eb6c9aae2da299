// Command gridsession runs a session-aware HTTP server on a shared store and
// manages the stored sessions.
package main

func main() {
	Execute()
}
