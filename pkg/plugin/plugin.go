package plugin

import (
	"net/rpc"
	"time"

	"github.com/hashicorp/go-plugin"
)

// Event kinds
const (
	EventJoin  = "join"
	EventLeave = "leave"
)

// Event is an occupant joining or leaving a logged room
type Event struct {
	Kind string
	Room string
	// JID is the full JID of the occupant.
	JID  string
	Nick string
	At   time.Time
}

// AuditLogger is the interface that all audit log plugins must implement
type AuditLogger interface {
	// Metadata describes the plugin
	Metadata() (Metadata, error)

	// Init configures the plugin with the options from the service config
	Init(options map[string]string) error

	// HandleEvent records one event
	HandleEvent(e Event) error

	// Stop flushes and releases the plugin's resources
	Stop() error
}

// Metadata contains plugin metadata
type Metadata struct {
	Name        string
	Version     string
	Description string
	Author      string
}

// Handshake is the plugin handshake config
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "MUCD_PLUGIN",
	MagicCookieValue: "mucd-audit-log",
}

const pluginName = "auditlog"

// PluginMap is the plugin type map
var PluginMap = map[string]plugin.Plugin{
	pluginName: &AuditLoggerPlugin{},
}

// Serve runs impl as a plugin process. It does not return.
func Serve(impl AuditLogger) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]plugin.Plugin{
			pluginName: &AuditLoggerPlugin{Impl: impl},
		},
	})
}

// AuditLoggerPlugin serves and consumes AuditLogger over net/rpc
type AuditLoggerPlugin struct {
	Impl AuditLogger
}

// Server returns the RPC server of the plugin side
func (p *AuditLoggerPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &RPCServer{Impl: p.Impl}, nil
}

// Client returns the RPC client of the host side
func (p *AuditLoggerPlugin) Client(_ *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RPCClient{client: c}, nil
}

// RPCClient is the host side of an AuditLogger
type RPCClient struct {
	client *rpc.Client
}

func (c *RPCClient) Metadata() (Metadata, error) {
	var md Metadata
	err := c.client.Call("Plugin.Metadata", new(interface{}), &md)
	return md, err
}

func (c *RPCClient) Init(options map[string]string) error {
	return c.client.Call("Plugin.Init", options, new(interface{}))
}

func (c *RPCClient) HandleEvent(e Event) error {
	return c.client.Call("Plugin.HandleEvent", e, new(interface{}))
}

func (c *RPCClient) Stop() error {
	return c.client.Call("Plugin.Stop", new(interface{}), new(interface{}))
}

// RPCServer is the plugin side of an AuditLogger
type RPCServer struct {
	Impl AuditLogger
}

func (s *RPCServer) Metadata(_ interface{}, resp *Metadata) error {
	md, err := s.Impl.Metadata()
	*resp = md
	return err
}

func (s *RPCServer) Init(options map[string]string, _ *interface{}) error {
	return s.Impl.Init(options)
}

func (s *RPCServer) HandleEvent(e Event, _ *interface{}) error {
	return s.Impl.HandleEvent(e)
}

func (s *RPCServer) Stop(_ interface{}, _ *interface{}) error {
	return s.Impl.Stop()
}
