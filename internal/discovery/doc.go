// Package discovery locates AV devices on the local network via SSDP.
//
// A search sends an M-SEARCH request to the SSDP multicast group and
// devices answer with unicast HTTP-style responses carrying a location
// URL. Two workers handle the replies:
//
//	search ──> multicast group
//	                │
//	listener <──── unicast replies
//	    │ parse, discard pathless locations
//	    ▼
//	response queue (arrival order)
//	    │
//	resolver ────> HTTP GET location, parse device description XML
//	    │ match manufacturer/model against known devices
//	    ▼
//	Listener.OnDeviceDiscovered(Descriptor)
//
// Replies whose location has no path component are discarded: such
// devices serve no description document, so nothing further can be
// learned about them. Resolved devices are matched against a small
// table of known manufacturer and model patterns; anything unrecognised
// is dropped silently. The descriptor's port is the device's control
// port, not the port from the location URL, because description and
// control are different services.
//
// The service itself retains nothing; persisting discovered devices is
// the caller's concern.
package discovery
