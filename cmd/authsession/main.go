// Command authsession manages a persisted client session and sends requests with it.
package main

import "github.com/AmmannChristian/go-authsession/cmd/authsession/cmd"

func main() {
	cmd.Execute()
}
