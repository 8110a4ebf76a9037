package hub

import (
	"context"
	"encoding/json"
	"runtime/debug"

	"github.com/go-viper/mapstructure/v2"

	"github.com/Iron-Ham/beacon/internal/activity"
	"github.com/Iron-Ham/beacon/internal/event"
	"github.com/Iron-Ham/beacon/internal/executor"
	"github.com/Iron-Ham/beacon/internal/orchestrator"
	"github.com/Iron-Ham/beacon/internal/watcher"
)

// Protocol error strings. These are part of the wire contract.
const (
	errInvalidJSON = "Invalid JSON message"
	errUnknownType = "Unknown message type"
)

// route parses one inbound payload and dispatches it to its handler.
// Every failure mode answers the sender and only the sender: bad JSON and
// unknown types produce protocol errors, handler failures produce typed
// error replies, and nothing here can take down the hub or another
// connection.
func (h *Hub) route(c *Conn, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("command handler panicked", "panic", r, "stack", string(debug.Stack()))
			c.replyError("internal error")
		}
	}()

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		c.replyError(errInvalidJSON)
		return
	}
	msgType, _ := raw["type"].(string)

	switch msgType {
	case "spawnInstance":
		h.handleSpawnInstance(c, raw)
	case "terminateInstance":
		h.handleTerminateInstance(c, raw)
	case "getInstances":
		h.handleGetInstances(c)
	case "startMonitoring":
		h.handleStartMonitoring(c, raw)
	case "stopMonitoring":
		h.handleStopMonitoring(c, raw)
	case "getMonitoringStatus":
		h.handleGetMonitoringStatus(c)
	case "getActivities":
		h.handleGetActivities(c, raw)
	case "getActivityStatistics":
		h.handleGetActivityStatistics(c)
	case "searchActivities":
		h.handleSearchActivities(c, raw)
	case "clearActivities":
		h.handleClearActivities(c)
	case "executeTaskStreaming":
		h.handleExecuteTaskStreaming(c, raw)
	case "directoryChange":
		h.handleDirectoryChange(c, raw)
	default:
		c.replyError(errUnknownType)
	}
}

// decodePayload maps the raw envelope fields onto a typed command struct.
// Weak typing is on because JSON numbers arrive as float64.
func decodePayload(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

type spawnInstanceCmd struct {
	Command string `mapstructure:"command"`
	Options struct {
		Args   []string `mapstructure:"args"`
		Dir    string   `mapstructure:"dir"`
		Env    []string `mapstructure:"env"`
		UsePTY bool     `mapstructure:"usePty"`
	} `mapstructure:"options"`
}

func (h *Hub) handleSpawnInstance(c *Conn, raw map[string]any) {
	var cmd spawnInstanceCmd
	if err := decodePayload(raw, &cmd); err != nil {
		c.replyError(err.Error())
		return
	}

	info, err := h.orch.Spawn(cmd.Command, orchestrator.SpawnOptions{
		Args:   cmd.Options.Args,
		Dir:    cmd.Options.Dir,
		Env:    cmd.Options.Env,
		UsePTY: cmd.Options.UsePTY,
	})
	if err != nil {
		c.replyError(err.Error())
		return
	}
	c.reply("response", map[string]any{"instance": info})
}

type instanceIDCmd struct {
	InstanceID string `mapstructure:"instanceId"`
}

func (h *Hub) handleTerminateInstance(c *Conn, raw map[string]any) {
	var cmd instanceIDCmd
	if err := decodePayload(raw, &cmd); err != nil {
		c.replyError(err.Error())
		return
	}

	if !h.orch.Terminate(cmd.InstanceID) {
		c.replyError("Instance not found: " + cmd.InstanceID)
		return
	}
	c.reply("response", map[string]any{"terminated": cmd.InstanceID})
}

func (h *Hub) handleGetInstances(c *Conn) {
	c.reply("instances", h.orch.List())
}

type startMonitoringCmd struct {
	ProjectPath string `mapstructure:"projectPath"`
	Options     struct {
		Ignore []string `mapstructure:"ignore"`
	} `mapstructure:"options"`
}

func (h *Hub) handleStartMonitoring(c *Conn, raw map[string]any) {
	var cmd startMonitoringCmd
	if err := decodePayload(raw, &cmd); err != nil {
		c.replyError(err.Error())
		return
	}

	if err := h.watcher.Start(cmd.ProjectPath, watcher.Options{Ignore: cmd.Options.Ignore}); err != nil {
		c.replyError(err.Error())
		return
	}
	c.reply("response", map[string]any{"monitoring": cmd.ProjectPath})
}

type stopMonitoringCmd struct {
	ProjectPath string `mapstructure:"projectPath"`
}

func (h *Hub) handleStopMonitoring(c *Conn, raw map[string]any) {
	var cmd stopMonitoringCmd
	if err := decodePayload(raw, &cmd); err != nil {
		c.replyError(err.Error())
		return
	}

	if !h.watcher.Stop(cmd.ProjectPath) {
		c.replyError("Path not monitored: " + cmd.ProjectPath)
		return
	}
	c.reply("response", map[string]any{"stopped": cmd.ProjectPath})
}

func (h *Hub) handleGetMonitoringStatus(c *Conn) {
	c.reply("monitoringStatus", h.watcher.Status())
}

type getActivitiesCmd struct {
	Limit int    `mapstructure:"limit"`
	Type  string `mapstructure:"type"`
}

func (h *Hub) handleGetActivities(c *Conn, raw map[string]any) {
	var cmd getActivitiesCmd
	if err := decodePayload(raw, &cmd); err != nil {
		c.replyError(err.Error())
		return
	}
	c.reply("activities", h.store.List(cmd.Limit, activity.Type(cmd.Type)))
}

func (h *Hub) handleGetActivityStatistics(c *Conn) {
	c.reply("activityStatistics", h.store.Stats())
}

type searchActivitiesCmd struct {
	Query   string                 `mapstructure:"query"`
	Filters activity.SearchFilters `mapstructure:"filters"`
}

func (h *Hub) handleSearchActivities(c *Conn, raw map[string]any) {
	var cmd searchActivitiesCmd
	if err := decodePayload(raw, &cmd); err != nil {
		c.replyError(err.Error())
		return
	}
	c.reply("searchResults", h.store.Search(cmd.Query, cmd.Filters))
}

func (h *Hub) handleClearActivities(c *Conn) {
	h.store.Clear()
	c.reply("response", map[string]any{"cleared": true})
}

func (h *Hub) handleExecuteTaskStreaming(c *Conn, raw map[string]any) {
	var req executor.StreamRequest
	if err := decodePayload(raw, &req); err != nil {
		c.replyError(err.Error())
		return
	}

	// The run can take minutes; hand it its own goroutine so this
	// connection and every other one keep processing events meanwhile.
	// All task events go to the requesting connection only.
	go func() {
		_ = h.exec.ExecuteStreaming(context.Background(), req, c)
	}()
}

type directoryChangeCmd struct {
	ProjectPath string `mapstructure:"projectPath"`
	Path        string `mapstructure:"path"`
}

// handleDirectoryChange republishes a client-reported directory navigation
// so every connection, the sender included, can follow along.
func (h *Hub) handleDirectoryChange(c *Conn, raw map[string]any) {
	var cmd directoryChangeCmd
	if err := decodePayload(raw, &cmd); err != nil {
		c.replyError(err.Error())
		return
	}
	if cmd.Path == "" {
		cmd.Path = cmd.ProjectPath
	}

	h.bus.Publish(event.NewDirectoryChangeEvent(cmd.ProjectPath, cmd.Path, "navigate"))
	c.reply("response", map[string]any{"acknowledged": true})
}
