// Package wbem provides a WBEM client speaking the CIM-XML protocol
// over HTTP(S), plus an indication listener for receiving CIM events.
//
// # Architecture
//
// The library is organized into layers:
//
//	┌─────────────────────────────────────────────────────────┐
//	│  client/     High-level operations, pull enumerations   │
//	├─────────────────────────────────────────────────────────┤
//	│  listener/   Indication listener (embedded HTTP server) │
//	├─────────────────────────────────────────────────────────┤
//	│  cimxml/     CIM-XML payload encoding and decoding      │
//	├─────────────────────────────────────────────────────────┤
//	│  cimxml/transport, cimxml/auth   HTTP plumbing, auth    │
//	└─────────────────────────────────────────────────────────┘
//
// # Quick Start
//
//	cfg := client.DefaultConfig()
//	cfg.Username = "administrator"
//	cfg.Password = "password"
//	conn, err := client.New("cimom.example.com", cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close()
//
//	it := conn.IterEnumerateInstances("CIM_ComputerSystem", nil)
//	defer it.Close(ctx)
//	for it.Next(ctx) {
//	    fmt.Println(it.Instance().ClassName)
//	}
//	if err := it.Err(); err != nil {
//	    log.Fatal(err)
//	}
package wbem
