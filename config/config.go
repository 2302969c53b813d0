// Package config holds the typed, in-memory representation of the runtime's
// interface/instance/endpoint topology (spec section 4.6), loaded from the
// JSON document described in spec section 6.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"someipd/rterr"
)

// ConfigListenerID is a unique identifier for a config change listener.
type ConfigListenerID string

// Protocol is the transport a configured endpoint or providing/required
// entry uses.
type Protocol string

const (
	ProtoUDP Protocol = "udp"
	ProtoTCP Protocol = "tcp"
)

// IPVersion is the IP family of a configured endpoint.
type IPVersion int

const (
	IPv4 IPVersion = 4
	IPv6 IPVersion = 6
)

// Endpoint is (IP literal, port, transport, IP family, optional owning
// interface), identified in the document by its alias key (spec section 3).
type Endpoint struct {
	IP        string    `json:"ip"`
	Port      uint16    `json:"port"`
	Protocol  Protocol  `json:"protocol"`
	Version   IPVersion `json:"version"`
	Interface string    `json:"interface,omitempty"`
}

// SDConfig is an interface's service-discovery settings: its multicast
// endpoint alias(es) and optional scheduler overrides (spec section 6).
type SDConfig struct {
	Endpoint         string `json:"endpoint,omitempty"`
	EndpointV6       string `json:"endpoint_v6,omitempty"`
	InitialDelayMs   int    `json:"initial_delay,omitempty"`
	CycleOfferMs     int    `json:"cycle_offer_ms,omitempty"`
	RequestTimeoutMs int    `json:"request_timeout_ms,omitempty"`
	MulticastHops    int    `json:"multicast_hops,omitempty"`
}

// Interface is a named adapter (eth0, lo, Wi-Fi): a mapping of endpoint
// aliases to Endpoint plus its SD settings (spec section 3).
type Interface struct {
	Name      string              `json:"name"`
	Endpoints map[string]Endpoint `json:"endpoints"`
	SD        SDConfig            `json:"sd,omitempty"`
}

// Providing is one locally offered service (spec section 4.6).
type Providing struct {
	ServiceID    uint16            `json:"service_id"`
	InstanceID   uint16            `json:"instance_id"`
	MajorVersion uint8             `json:"major_version"`
	MinorVersion uint32            `json:"minor_version"`
	Protocol     Protocol          `json:"protocol,omitempty"`
	Endpoint     string            `json:"endpoint,omitempty"`
	OfferOn      map[string]string `json:"offer_on,omitempty"` // interface alias -> endpoint alias
	Multicast    string            `json:"multicast,omitempty"`
	Eventgroups  []uint16          `json:"eventgroups,omitempty"`
	CycleOfferMs int               `json:"cycle_offer_ms,omitempty"`
}

// Required is one remote service this instance consumes (spec section 4.6).
type Required struct {
	ServiceID    uint16   `json:"service_id"`
	InstanceID   uint16   `json:"instance_id"`
	MajorVersion uint8    `json:"major_version,omitempty"`
	Protocol     Protocol `json:"protocol,omitempty"`
	FindOn       []string `json:"find_on,omitempty"`
	Endpoint     string   `json:"endpoint,omitempty"` // static fallback, bypasses SD
}

// Instance is one runtime instance's topology: which interfaces it binds,
// what it offers, and what it requires (spec section 4.6).
type Instance struct {
	UnicastBind map[string]string    `json:"unicast_bind,omitempty"` // interface alias -> endpoint alias
	Providing   map[string]Providing `json:"providing,omitempty"`
	Required    map[string]Required  `json:"required,omitempty"`
	SD          SDConfig             `json:"sd,omitempty"`
}

// Config is the full parsed configuration document: every named interface
// plus every named instance (spec section 4.6).
type Config struct {
	Interfaces map[string]Interface `json:"interfaces"`
	Instances  map[string]Instance  `json:"instances"`

	// dataMu protects the fields above against concurrent access. Callers
	// that modify config should Lock(), modify, then call UnlockAndSave().
	dataMu sync.Mutex `json:"-"`

	changeListeners map[ConfigListenerID]func() `json:"-"`
	listenersMu     sync.RWMutex                `json:"-"`
	listenerCounter uint64                      `json:"-"`
}

// DefaultConfig returns an empty, ready-to-populate configuration.
func DefaultConfig() *Config {
	return &Config{
		Interfaces: make(map[string]Interface),
		Instances:  make(map[string]Instance),
	}
}

// DefaultPath returns the conventional config file location under the
// user's home directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "someipd.json"
	}
	return filepath.Join(home, ".someipd", "config.json")
}

// Load reads and parses the JSON configuration document at path, then
// resolves every offer_on/find_on/unicast_bind alias reference against the
// declared interfaces and endpoints (spec section 4.6's resolution
// invariant). Any unresolved alias is a fatal ConfigResolution error naming
// the path of the violation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rterr.Wrap(rterr.KindConfigResolution, "reading config file "+path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, rterr.Wrap(rterr.KindConfigResolution, "parsing config file "+path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate resolves every alias reference in every instance against the
// declared interfaces/endpoints, returning the first violation found.
func (c *Config) Validate() error {
	for instName, inst := range c.Instances {
		for ifaceAlias, endpointAlias := range inst.UnicastBind {
			if err := c.resolveEndpoint(ifaceAlias, endpointAlias); err != nil {
				return rterr.Wrap(rterr.KindConfigResolution,
					fmt.Sprintf("instances.%s.unicast_bind.%s", instName, ifaceAlias), err)
			}
		}
		for svcAlias, p := range inst.Providing {
			for ifaceAlias, endpointAlias := range p.OfferOn {
				if err := c.resolveEndpoint(ifaceAlias, endpointAlias); err != nil {
					return rterr.Wrap(rterr.KindConfigResolution,
						fmt.Sprintf("instances.%s.providing.%s.offer_on.%s", instName, svcAlias, ifaceAlias), err)
				}
			}
		}
		for cliAlias, r := range inst.Required {
			for _, ifaceAlias := range r.FindOn {
				if _, ok := c.Interfaces[ifaceAlias]; !ok {
					return rterr.New(rterr.KindConfigResolution,
						fmt.Sprintf("instances.%s.required.%s.find_on references unknown interface %q", instName, cliAlias, ifaceAlias))
				}
			}
		}
	}
	return nil
}

func (c *Config) resolveEndpoint(ifaceAlias, endpointAlias string) error {
	iface, ok := c.Interfaces[ifaceAlias]
	if !ok {
		return fmt.Errorf("unknown interface alias %q", ifaceAlias)
	}
	if _, ok := iface.Endpoints[endpointAlias]; !ok {
		return fmt.Errorf("unknown endpoint alias %q on interface %q", endpointAlias, ifaceAlias)
	}
	return nil
}

// AddOnChangeListener registers a callback invoked (in its own goroutine)
// whenever the config is saved. Returns an id usable with
// RemoveOnChangeListener.
func (c *Config) AddOnChangeListener(cb func()) ConfigListenerID {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	if c.changeListeners == nil {
		c.changeListeners = make(map[ConfigListenerID]func())
	}
	id := ConfigListenerID(fmt.Sprintf("listener-%d", atomic.AddUint64(&c.listenerCounter, 1)))
	c.changeListeners[id] = cb
	return id
}

// RemoveOnChangeListener removes a previously registered listener.
func (c *Config) RemoveOnChangeListener(id ConfigListenerID) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	delete(c.changeListeners, id)
}

func (c *Config) notifyChangeListeners() {
	c.listenersMu.RLock()
	listeners := make([]func(), 0, len(c.changeListeners))
	for _, cb := range c.changeListeners {
		listeners = append(listeners, cb)
	}
	c.listenersMu.RUnlock()
	for _, cb := range listeners {
		go cb()
	}
}

// Lock acquires the config data mutex for exclusive access. Use before
// modifying config fields, then call UnlockAndSave.
func (c *Config) Lock() { c.dataMu.Lock() }

// Unlock releases the config data mutex without saving.
func (c *Config) Unlock() { c.dataMu.Unlock() }

// Save acquires the lock, marshals, writes, and notifies. Use when the
// caller does not already hold the lock.
func (c *Config) Save(path string) error {
	c.dataMu.Lock()
	return c.saveLocked(path)
}

// UnlockAndSave marshals, releases the lock, writes, and notifies. The
// caller must already hold the lock via Lock().
func (c *Config) UnlockAndSave(path string) error {
	return c.saveLocked(path)
}

func (c *Config) saveLocked(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	c.dataMu.Unlock()
	if err != nil {
		return rterr.Wrap(rterr.KindConfigResolution, "marshaling config", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return rterr.Wrap(rterr.KindConfigResolution, "creating config directory", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return rterr.Wrap(rterr.KindConfigResolution, "writing config file "+path, err)
	}
	c.notifyChangeListeners()
	return nil
}

// ResolvedEndpoint looks up the endpoint named by alias on the interface
// named by ifaceAlias, returning a ConfigResolution error on either miss.
func (c *Config) ResolvedEndpoint(ifaceAlias, endpointAlias string) (Endpoint, error) {
	iface, ok := c.Interfaces[ifaceAlias]
	if !ok {
		return Endpoint{}, rterr.New(rterr.KindConfigResolution, "unknown interface alias "+ifaceAlias)
	}
	ep, ok := iface.Endpoints[endpointAlias]
	if !ok {
		return Endpoint{}, rterr.New(rterr.KindConfigResolution, "unknown endpoint alias "+endpointAlias+" on interface "+ifaceAlias)
	}
	return ep, nil
}

// RequestTimeout returns the configured request timeout for inst, falling
// back to defaultTimeout when unset.
func (inst Instance) RequestTimeout(defaultTimeout time.Duration) time.Duration {
	if inst.SD.RequestTimeoutMs <= 0 {
		return defaultTimeout
	}
	return time.Duration(inst.SD.RequestTimeoutMs) * time.Millisecond
}
