package plugin

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
	"mellium.im/xmpp/jid"

	"github.com/meszmate/mucd/internal/xmpp/muc"
)

// Host manages plugin lifecycle and fans room events out to the loaded
// audit loggers.
type Host struct {
	mu        sync.RWMutex
	plugins   map[string]*LoadedPlugin
	pluginDir string
	enabled   map[string]bool
	options   map[string]map[string]string
	log       hclog.Logger
}

// LoadedPlugin represents a loaded plugin
type LoadedPlugin struct {
	Name        string
	Version     string
	Description string
	Path        string
	Logger      AuditLogger
	client      *plugin.Client
}

// NewHost creates a plugin host loading the enabled plugins from pluginDir.
// options holds the per-plugin settings passed to Init.
func NewHost(pluginDir string, enabled []string, options map[string]map[string]string, logger hclog.Logger) *Host {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	h := &Host{
		plugins:   make(map[string]*LoadedPlugin),
		pluginDir: pluginDir,
		enabled:   make(map[string]bool, len(enabled)),
		options:   options,
		log:       logger,
	}
	for _, name := range enabled {
		h.enabled[name] = true
	}
	return h
}

// LoadAll loads the enabled plugins found in the plugin directory
func (h *Host) LoadAll() error {
	if h.pluginDir == "" || len(h.enabled) == 0 {
		return nil
	}

	entries, err := os.ReadDir(h.pluginDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if !h.enabled[name] {
			continue
		}

		path := filepath.Join(h.pluginDir, entry.Name())
		if err := h.Load(path); err != nil {
			h.log.Warn("failed to load plugin", "path", path, "error", err)
		}
	}

	return nil
}

// Load loads a single plugin
func (h *Host) Load(path string) error {
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig: Handshake,
		Plugins:         PluginMap,
		Cmd:             exec.Command(path),
		AllowedProtocols: []plugin.Protocol{
			plugin.ProtocolNetRPC,
		},
		Logger: h.log.Named("plugin"),
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return fmt.Errorf("failed to connect to plugin: %w", err)
	}

	raw, err := rpcClient.Dispense(pluginName)
	if err != nil {
		client.Kill()
		return fmt.Errorf("failed to dispense plugin: %w", err)
	}

	logger, ok := raw.(AuditLogger)
	if !ok {
		client.Kill()
		return fmt.Errorf("plugin %s is not an audit logger", path)
	}

	if err := h.register(path, logger, client); err != nil {
		client.Kill()
		return err
	}
	return nil
}

func (h *Host) register(path string, logger AuditLogger, client *plugin.Client) error {
	md, err := logger.Metadata()
	if err != nil {
		return fmt.Errorf("failed to read plugin metadata: %w", err)
	}
	if md.Name == "" {
		md.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	if err := logger.Init(h.options[md.Name]); err != nil {
		return fmt.Errorf("failed to initialize plugin: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.plugins[md.Name]; exists {
		return fmt.Errorf("plugin %s already loaded", md.Name)
	}
	h.plugins[md.Name] = &LoadedPlugin{
		Name:        md.Name,
		Version:     md.Version,
		Description: md.Description,
		Path:        path,
		Logger:      logger,
		client:      client,
	}
	h.log.Info("plugin loaded", "name", md.Name, "version", md.Version)
	return nil
}

// AddJoinEvent hands a join to every loaded plugin
func (h *Host) AddJoinEvent(room *muc.Room, at time.Time, occupant jid.JID, nick string) error {
	return h.Emit(Event{Kind: EventJoin, Room: room.Address().String(), JID: occupant.String(), Nick: nick, At: at})
}

// AddLeaveEvent hands a leave to every loaded plugin
func (h *Host) AddLeaveEvent(room *muc.Room, at time.Time, occupant jid.JID, nick string) error {
	return h.Emit(Event{Kind: EventLeave, Room: room.Address().String(), JID: occupant.String(), Nick: nick, At: at})
}

// Emit delivers e to every loaded plugin. A failing plugin does not keep
// the others from receiving the event.
func (h *Host) Emit(e Event) error {
	var errs []error
	for _, lp := range h.List() {
		if err := lp.Logger.HandleEvent(e); err != nil {
			errs = append(errs, fmt.Errorf("plugin %s: %w", lp.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Unload stops and unloads a plugin
func (h *Host) Unload(name string) error {
	h.mu.Lock()
	lp := h.plugins[name]
	delete(h.plugins, name)
	h.mu.Unlock()

	if lp == nil {
		return nil
	}
	return h.stop(lp)
}

// UnloadAll unloads all plugins
func (h *Host) UnloadAll() {
	h.mu.Lock()
	loaded := h.plugins
	h.plugins = make(map[string]*LoadedPlugin)
	h.mu.Unlock()

	for _, lp := range loaded {
		if err := h.stop(lp); err != nil {
			h.log.Warn("failed to stop plugin", "name", lp.Name, "error", err)
		}
	}
}

func (h *Host) stop(lp *LoadedPlugin) error {
	err := lp.Logger.Stop()
	if lp.client != nil {
		lp.client.Kill()
	}
	return err
}

// List returns all loaded plugins ordered by name
func (h *Host) List() []*LoadedPlugin {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]*LoadedPlugin, 0, len(h.plugins))
	for _, lp := range h.plugins {
		result = append(result, lp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Get returns a specific plugin
func (h *Host) Get(name string) *LoadedPlugin {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.plugins[name]
}
