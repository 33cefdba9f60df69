// Package device provides the device registry for the AV bridge.
//
// The registry is the catalogue of AV appliances the bridge manages:
// configured devices from the bridge configuration and devices found by
// SSDP discovery. It backs the REST API and seeds the device sessions
// at startup.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────┐
//	│                      Device Registry                      │
//	│                                                           │
//	│  ┌────────────────┐   ┌────────────────┐   ┌───────────┐ │
//	│  │    Registry    │   │   Repository   │   │ Validation│ │
//	│  │ (registry.go)  │──▶│(repository.go) │   │           │ │
//	│  │                │   │                │   │ • name    │ │
//	│  │ • CRUD ops     │   │ • SQLite       │   │ • type    │ │
//	│  │ • value cache  │   │ • upsert       │   │ • endpoint│ │
//	│  └────────────────┘   └────────────────┘   └───────────┘ │
//	│          │                     │                          │
//	└──────────│─────────────────────│──────────────────────────┘
//	           │                     │
//	           ▼                     ▼
//	┌────────────────────┐   ┌────────────────────┐
//	│  REST API / bridge │   │  SQLite database   │
//	│  SSDP discovery    │   │  (devices table)   │
//	└────────────────────┘   └────────────────────┘
//
// # Key Types
//
//   - Device: one AV appliance with its control endpoint
//   - Type: protocol family (pioneer_vsx1021, sony_bravia)
//   - Source: how the record was established (configured, discovered)
//
// # Usage
//
//	// Create repository and registry
//	repo := device.NewSQLiteRepository(db)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log)
//
//	// Load devices into cache on startup
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	// Create a configured device
//	dev := &device.Device{
//	    Name: "Living Room AVR",
//	    Type: device.TypePioneerVSX1021,
//	    Host: "192.168.1.40",
//	}
//	if err := registry.CreateDevice(ctx, dev); err != nil {
//	    return err
//	}
//
//	// Record a discovery response
//	registry.UpsertDiscovered(ctx, &device.Device{
//	    Type:         device.TypeSonyBravia,
//	    Host:         "192.168.1.41",
//	    Port:         20060,
//	    Manufacturer: "Sony Corporation",
//	    Model:        "KDL-46HX800",
//	})
//
// # Thread Safety
//
// The Registry is safe for concurrent use. All operations are protected by
// a read-write mutex. The Repository implementation must also be thread-safe.
package device
