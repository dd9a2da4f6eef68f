// Package grpcclient provides a fluent builder for secure gRPC client connections that
// carry the session of a tokenmanager.Manager.
//
// It defaults to TLS 1.2+ using system roots to avoid accidental plaintext connections.
// Optional methods add the manager's interceptors, custom CA or mTLS credentials, and
// extra dial options.
//
// # Features
//
//   - Fluent builder for gRPC clients
//   - Session metadata on every call; unary calls retried after a token refresh
//   - Secure-by-default TLS; optional custom CA and mTLS
//   - Additional dial options via WithDialOptions
//
// # Quick Start
//
//	conn, err := grpcclient.NewBuilder().
//	    WithAddress("server.example.com:9090").
//	    WithTokenManager(tm).
//	    WithTLS("/path/to/ca.crt", "", "", "server.example.com").
//	    Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close()
//
//	client := pb.NewYourServiceClient(conn)
//
// # TLS Behavior
//
// TLS is enabled by default with system CAs and TLS 1.2 minimum. WithTLS allows supplying a custom
// root CA and optional client cert/key for mTLS; both cert and key must be provided together.
// Streams only receive metadata: a stream rejected as unauthenticated is not replayed.
package grpcclient
