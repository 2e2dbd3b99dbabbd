// Command shadow runs the pieces of a shadow co-browsing session: the relay
// both peers connect to, the controller that shares a live page, and the
// viewer that mirrors it.
//
//	shadow relay --listen :8080 --audit-db relay.db
//	shadow control --relay ws://localhost:8080/ws/demo --url https://example.com
//	shadow view --relay ws://localhost:8080/ws/demo --out mirror.html
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "shadow:", err)
		os.Exit(1)
	}
}
