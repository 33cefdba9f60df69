package discovery

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"
)

// SSDP protocol constants.
const (
	// multicastAddress is the SSDP discovery group and port.
	multicastAddress = "239.255.255.250:1900"

	// multicastTTL keeps searches on the local network segment and its
	// immediate neighbours.
	multicastTTL = 2

	// defaultMX is the response spread advertised in searches, seconds.
	defaultMX = 3

	// readTimeout bounds individual reads so the listener can observe a
	// stop request promptly.
	readTimeout = 1 * time.Second

	// maxResponseSize bounds one SSDP reply datagram.
	maxResponseSize = 2048

	// responseQueueDepth is the resolver backlog before replies are
	// dropped.
	responseQueueDepth = 64

	// defaultFetchTimeout bounds the description document fetch.
	defaultFetchTimeout = 5 * time.Second

	// maxDescriptionSize bounds the description document body.
	maxDescriptionSize = 64 * 1024
)

// Common search targets.
const (
	// SearchTargetAll asks every device to respond.
	SearchTargetAll = "ssdp:all"

	// SearchTargetRootDevice asks root devices to respond once each.
	SearchTargetRootDevice = "upnp:rootdevice"
)

// Listener receives resolved devices.
type Listener interface {
	OnDeviceDiscovered(desc Descriptor)
}

// Logger is the minimal logging interface used by this package.
// Compatible with slog-style structured loggers.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Config holds discovery service configuration.
type Config struct {
	// FetchTimeout bounds each description document fetch.
	// Default: 5 seconds.
	FetchTimeout time.Duration

	// Logger is optional structured logging.
	Logger Logger
}

// Stats holds operational statistics.
type Stats struct {
	ResponsesReceived uint64
	ResponsesDropped  uint64
	FetchErrors       uint64
	DevicesMatched    uint64
	Running           bool
}

// Service discovers devices via SSDP. Create with New, then Start,
// Search as needed, and Stop.
type Service struct {
	fetchTimeout time.Duration
	httpClient   *http.Client

	// Run state, guarded by mu
	mu          sync.Mutex
	conn        net.PacketConn
	done        chan struct{}
	responses   chan *Response
	fetchCancel context.CancelFunc
	fetchCtx    context.Context
	running     bool
	wg          sync.WaitGroup

	// Listeners (protected by listenersMu)
	listenersMu sync.RWMutex
	listeners   []Listener

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	responsesReceived atomic.Uint64
	responsesDropped  atomic.Uint64
	fetchErrors       atomic.Uint64
	devicesMatched    atomic.Uint64
}

// New creates a discovery service. It does nothing until Start.
func New(cfg Config) *Service {
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	return &Service{
		fetchTimeout: cfg.FetchTimeout,
		httpClient:   &http.Client{Timeout: cfg.FetchTimeout},
		logger:       cfg.Logger,
	}
}

// AddListener registers a device observer.
func (s *Service) AddListener(l Listener) {
	if l == nil {
		return
	}
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

// SetLogger sets the logger.
func (s *Service) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	defer s.loggerMu.Unlock()
	s.logger = logger
}

// Start opens the listening socket and launches the listener and
// resolver workers.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return fmt.Errorf("discovery: listen: %w", err)
	}

	if err := ipv4.NewPacketConn(conn).SetMulticastTTL(multicastTTL); err != nil {
		s.logDebug("set multicast ttl failed", "error", err)
	}

	s.conn = conn
	s.done = make(chan struct{})
	s.responses = make(chan *Response, responseQueueDepth)
	s.fetchCtx, s.fetchCancel = context.WithCancel(context.Background())
	s.running = true

	s.wg.Add(2)
	go s.listenLoop(conn, s.done)
	go s.resolveLoop(s.done)

	s.logInfo("discovery started", "address", conn.LocalAddr().String())
	return nil
}

// Stop terminates the workers, closing the socket to unblock the
// listener and abandoning any in-flight description fetch. Queued
// unresolved responses are discarded. Safe to call when not running.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	done := s.done
	conn := s.conn
	fetchCancel := s.fetchCancel
	s.mu.Unlock()

	close(done)
	fetchCancel()
	conn.Close()
	s.wg.Wait()

	s.logInfo("discovery stopped")
}

// Search sends one multicast search for the given target. mx is the
// response spread in seconds devices may wait before answering; zero
// selects the default.
func (s *Service) Search(target string, mx int) error {
	s.mu.Lock()
	conn := s.conn
	running := s.running
	s.mu.Unlock()

	if !running {
		return ErrNotRunning
	}
	if mx <= 0 {
		mx = defaultMX
	}

	group, err := net.ResolveUDPAddr("udp4", multicastAddress)
	if err != nil {
		return fmt.Errorf("discovery: resolve group: %w", err)
	}

	if _, err := conn.WriteTo(searchMessage(target, mx), group); err != nil {
		return fmt.Errorf("discovery: search: %w", err)
	}

	s.logDebug("search sent", "target", target, "mx", mx)
	return nil
}

// Stats returns current operational statistics.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return Stats{
		ResponsesReceived: s.responsesReceived.Load(),
		ResponsesDropped:  s.responsesDropped.Load(),
		FetchErrors:       s.fetchErrors.Load(),
		DevicesMatched:    s.devicesMatched.Load(),
		Running:           running,
	}
}

// LocalAddr returns the listening address, or nil when stopped.
func (s *Service) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// searchMessage builds one M-SEARCH request.
func searchMessage(target string, mx int) []byte {
	return []byte("M-SEARCH * HTTP/1.1\r\n" +
		"HOST: " + multicastAddress + "\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"ST: " + target + "\r\n" +
		"MX: " + fmt.Sprintf("%d", mx) + "\r\n" +
		"\r\n")
}

// listenLoop receives reply datagrams until stopped.
func (s *Service) listenLoop(conn net.PacketConn, done chan struct{}) {
	defer s.wg.Done()

	buf := make([]byte, maxResponseSize)
	for {
		select {
		case <-done:
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			s.logDebug("set read deadline failed", "error", err)
		}

		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-done:
				return
			default:
			}
			if !errors.Is(err, net.ErrClosed) {
				s.logWarn("listener read failed", "error", err)
			}
			return
		}

		raw := make([]byte, n)
		copy(raw, buf[:n])

		resp, err := parseResponse(raw)
		if err != nil {
			s.responsesDropped.Add(1)
			s.logDebug("discarding reply", "from", addr.String(), "error", err)
			continue
		}

		s.responsesReceived.Add(1)
		s.logDebug("reply received", "from", addr.String(), "location", resp.Location)

		select {
		case s.responses <- resp:
		default:
			s.responsesDropped.Add(1)
			s.logWarn("resolver backlog full, dropping reply", "location", resp.Location)
		}
	}
}

// resolveLoop fetches description documents for queued replies and
// forwards recognised devices to listeners.
func (s *Service) resolveLoop(done chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case <-done:
			// Discard whatever is still queued.
			for {
				select {
				case <-s.responses:
					s.responsesDropped.Add(1)
				default:
					return
				}
			}
		case resp := <-s.responses:
			desc, ok := s.resolve(resp)
			if !ok {
				continue
			}
			s.devicesMatched.Add(1)
			s.logInfo("device discovered",
				"type", desc.Type,
				"name", desc.Name,
				"host", desc.Host,
				"port", desc.Port)
			s.notifyListeners(desc)
		}
	}
}

// resolve fetches and parses one device description. Unrecognised and
// unreachable devices return false.
func (s *Service) resolve(resp *Response) (Descriptor, bool) {
	ctx, cancel := context.WithTimeout(s.fetchCtx, s.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resp.Location, nil)
	if err != nil {
		s.fetchErrors.Add(1)
		s.logWarn("description request failed", "location", resp.Location, "error", err)
		return Descriptor{}, false
	}

	httpResp, err := s.httpClient.Do(req)
	if err != nil {
		s.fetchErrors.Add(1)
		s.logWarn("description fetch failed", "location", resp.Location, "error", err)
		return Descriptor{}, false
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		s.fetchErrors.Add(1)
		s.logWarn("description fetch rejected", "location", resp.Location, "status", httpResp.StatusCode)
		return Descriptor{}, false
	}

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxDescriptionSize))
	if err != nil {
		s.fetchErrors.Add(1)
		s.logWarn("description read failed", "location", resp.Location, "error", err)
		return Descriptor{}, false
	}

	var desc deviceDescription
	if err := xml.Unmarshal(body, &desc); err != nil {
		s.fetchErrors.Add(1)
		s.logWarn("description parse failed", "location", resp.Location, "error", err)
		return Descriptor{}, false
	}

	pattern, ok := matchKnownDevice(desc.Device.Manufacturer, desc.Device.ModelName)
	if !ok {
		s.logDebug("unrecognised device",
			"manufacturer", desc.Device.Manufacturer,
			"model", desc.Device.ModelName,
			"location", resp.Location)
		return Descriptor{}, false
	}

	return newDescriptor(resp, desc, pattern), true
}

// notifyListeners delivers a descriptor to every listener, isolating
// panics so one bad listener cannot kill the resolver.
func (s *Service) notifyListeners(desc Descriptor) {
	s.listenersMu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logError("listener panic", "panic", r)
				}
			}()
			l.OnDeviceDiscovered(desc)
		}()
	}
}

// logDebug logs a debug message if logger is set.
func (s *Service) logDebug(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if logger is set.
func (s *Service) logInfo(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning message if logger is set.
func (s *Service) logWarn(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (s *Service) logError(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, keysAndValues...)
	}
}
