package grpcclient_test

import (
	"context"
	"fmt"
	"log"

	"github.com/AmmannChristian/go-authsession/grpcclient"
	"github.com/AmmannChristian/go-authsession/session"
	"github.com/AmmannChristian/go-authsession/tokenmanager"
)

func ExampleBuilder() {
	tm := tokenmanager.New(session.NewMemoryStore())
	if err := tm.Initialize(context.Background(), tokenmanager.Config{}); err != nil {
		log.Fatal(err)
	}

	conn, err := grpcclient.NewBuilder().
		WithAddress("server.example.com:9090").
		WithTokenManager(tm).
		WithTLS("", "", "", "server.example.com").
		Build()
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	fmt.Println(conn.Target())
	// Output: server.example.com:9090
}
