package discovery

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Device type identifiers for recognised hardware.
const (
	DeviceTypePioneerVSX1021 = "pioneer_vsx1021"
	DeviceTypeSonyBravia     = "sony_bravia"
)

// Response is one parsed SSDP reply, before resolution.
type Response struct {
	// Location is the URL of the device description document.
	Location string

	// Host and Port are taken from the location URL.
	Host string
	Port int

	// USN is the device's unique service name.
	USN string

	// ST is the search target the device answered for.
	ST string

	// CacheAge is the advertised validity of the reply in seconds.
	CacheAge int
}

// Descriptor identifies a discovered, recognised device.
type Descriptor struct {
	// Type is the device type identifier, e.g. "sony_bravia".
	Type string

	// Name is the device's advertised friendly name, falling back to
	// manufacturer and model.
	Name string

	// Host is the device's address.
	Host string

	// Port is the device's control port. This is not the port from the
	// location URL; description and control are different services.
	Port int

	Manufacturer string
	Model        string

	// Location is the description URL the device was resolved from,
	// usable as a stable identity key.
	Location string
}

// parseResponse decodes one raw SSDP reply. Replies without a location
// path are rejected: they yield no description document.
func parseResponse(raw []byte) (*Response, error) {
	httpResp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	defer httpResp.Body.Close()

	location := httpResp.Header.Get("Location")
	if location == "" {
		return nil, fmt.Errorf("%w: no location header", ErrInvalidResponse)
	}

	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("%w: location %q: %v", ErrInvalidResponse, location, err)
	}
	if u.Host == "" || u.Path == "" {
		return nil, fmt.Errorf("%w: location %q has no path", ErrInvalidResponse, location)
	}

	port := 80
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%w: location %q: bad port", ErrInvalidResponse, location)
		}
	}

	resp := &Response{
		Location: location,
		Host:     u.Hostname(),
		Port:     port,
		USN:      httpResp.Header.Get("USN"),
		ST:       httpResp.Header.Get("ST"),
		CacheAge: parseCacheAge(httpResp.Header.Get("Cache-Control")),
	}
	return resp, nil
}

// parseCacheAge extracts the max-age seconds from a cache-control
// header, or zero.
func parseCacheAge(header string) int {
	for _, field := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(field), "=")
		if !found || !strings.EqualFold(key, "max-age") {
			continue
		}
		age, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0
		}
		return age
	}
	return 0
}

// deviceDescription mirrors the parts of the UPnP device description
// document the resolver needs.
type deviceDescription struct {
	XMLName xml.Name `xml:"root"`
	Device  struct {
		FriendlyName string `xml:"friendlyName"`
		Manufacturer string `xml:"manufacturer"`
		ModelName    string `xml:"modelName"`
	} `xml:"device"`
}

// devicePattern matches a manufacturer and model to a device type.
type devicePattern struct {
	manufacturer string
	model        string
	deviceType   string
	controlPort  int
}

// knownDevices are the manufacturer and model fragments this bridge
// recognises, matched case-insensitively.
var knownDevices = []devicePattern{
	{manufacturer: "pioneer", model: "vsx-1021", deviceType: DeviceTypePioneerVSX1021, controlPort: 23},
	{manufacturer: "sony", model: "bravia", deviceType: DeviceTypeSonyBravia, controlPort: 20060},
	{manufacturer: "sony", model: "xbr", deviceType: DeviceTypeSonyBravia, controlPort: 20060},
}

// matchKnownDevice finds the pattern for a manufacturer and model, if
// any.
func matchKnownDevice(manufacturer, model string) (devicePattern, bool) {
	m := strings.ToLower(manufacturer)
	mod := strings.ToLower(model)
	for _, pattern := range knownDevices {
		if strings.Contains(m, pattern.manufacturer) && strings.Contains(mod, pattern.model) {
			return pattern, true
		}
	}
	return devicePattern{}, false
}

// newDescriptor builds the outgoing descriptor for a matched device.
func newDescriptor(resp *Response, desc deviceDescription, pattern devicePattern) Descriptor {
	name := strings.TrimSpace(desc.Device.FriendlyName)
	if name == "" {
		name = strings.TrimSpace(desc.Device.Manufacturer + " " + desc.Device.ModelName)
	}

	return Descriptor{
		Type:         pattern.deviceType,
		Name:         name,
		Host:         resp.Host,
		Port:         pattern.controlPort,
		Manufacturer: desc.Device.Manufacturer,
		Model:        desc.Device.ModelName,
		Location:     resp.Location,
	}
}
