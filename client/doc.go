// Package client provides a high-level WBEM client over CIM-XML.
//
// This is the recommended entry point for most users. It handles:
//   - Connection and authentication setup
//   - Intrinsic and extrinsic CIM operations
//   - Pull enumeration sessions, with transparent fallback to the
//     traditional single-exchange operations
//
// # Quick Start
//
//	cfg := client.DefaultConfig()
//	cfg.Username = "administrator"
//	cfg.Password = "password"
//
//	conn, err := client.New("server.example.com", cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close()
//
//	instances, err := conn.EnumerateInstances(ctx, "CIM_ComputerSystem", nil)
package client
