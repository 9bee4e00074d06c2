package api

import (
	"time"

	"github.com/mattjoyce/switchboard/internal/journal"
	"github.com/mattjoyce/switchboard/internal/plugin"
)

// ErrorResponse is returned on errors outside command dispatch.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RootResponse is returned by GET /.
type RootResponse struct {
	Status string `json:"status"`
	System string `json:"system"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status             string    `json:"status"`
	UptimeSeconds      int64     `json:"uptime_seconds"`
	ActionsLoaded      int       `json:"actions_loaded"`
	RegistryGeneration uint64    `json:"registry_generation"`
	RegistryLoadedAt   time.Time `json:"registry_loaded_at"`
	EventSubscribers   int       `json:"event_subscribers"`
}

// ActionInfo describes one registered action.
type ActionInfo struct {
	Action      string `json:"action"`
	Source      string `json:"source"`
	Origin      string `json:"origin"`
	Description string `json:"description,omitempty"`
}

// ActionsResponse is returned by GET /actions.
type ActionsResponse struct {
	Generation uint64       `json:"generation"`
	Actions    []ActionInfo `json:"actions"`
}

// PluginsResponse is returned by GET /plugins.
type PluginsResponse struct {
	Generation uint64           `json:"generation"`
	Manifest   *plugin.Manifest `json:"manifest"`
}

// ReloadResponse is returned by a successful POST /admin/reload.
type ReloadResponse struct {
	Status     string   `json:"status"`
	Generation uint64   `json:"generation"`
	Actions    int      `json:"actions"`
	Added      []string `json:"added"`
	Removed    []string `json:"removed"`
	Replaced   []string `json:"replaced"`
	Failed     int      `json:"failed_plugins"`
	Conflicts  int      `json:"conflicts"`
}

// DispatchListResponse is returned by GET /dispatches.
type DispatchListResponse struct {
	Dispatches []*journal.Entry `json:"dispatches"`
}
