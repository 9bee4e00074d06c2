package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/switchboard/internal/plugin"
	"github.com/mattjoyce/switchboard/internal/protocol"
)

type inventoryConfig struct {
	BaseURL      string        `yaml:"base_url"`
	DefaultOwner string        `yaml:"default_owner"`
	Token        string        `yaml:"token"`
	Timeout      time.Duration `yaml:"timeout"`
	PerPage      int           `yaml:"per_page"`
}

// Inventory lists an owner's public GitHub repositories.
type Inventory struct {
	cfg    inventoryConfig
	client *http.Client
}

func NewInventory(cfg map[string]any) (plugin.Module, error) {
	c := inventoryConfig{
		BaseURL:      "https://api.github.com",
		DefaultOwner: "InfinityXOneSystems",
		Timeout:      15 * time.Second,
		PerPage:      100,
	}
	if err := decodeConfig("inventory", cfg, &c); err != nil {
		return nil, err
	}
	if _, err := url.Parse(c.BaseURL); err != nil || c.BaseURL == "" {
		return nil, fmt.Errorf("inventory config: invalid base_url %q", c.BaseURL)
	}
	if c.PerPage < 1 || c.PerPage > 100 {
		return nil, fmt.Errorf("inventory config: per_page must be between 1 and 100")
	}
	return &Inventory{cfg: c, client: &http.Client{Timeout: c.Timeout}}, nil
}

func (m *Inventory) Name() string { return "inventory" }

func (m *Inventory) Register() (map[string]plugin.Handler, error) {
	return map[string]plugin.Handler{
		"scan_inventory": plugin.HandlerFunc(m.scan),
	}, nil
}

func (m *Inventory) Descriptions() map[string]string {
	return map[string]string{
		"scan_inventory": "List the target owner's public GitHub repositories",
	}
}

type githubRepo struct {
	Name     string `json:"name"`
	HTMLURL  string `json:"html_url"`
	Stars    int64  `json:"stargazers_count"`
	Archived bool   `json:"archived"`
}

// scan accepts params.min_stars to filter and params.sort ("stars" or
// "name") to order the result.
func (m *Inventory) scan(ctx context.Context, target *string, params *protocol.Map) (protocol.Value, error) {
	owner := targetOr(target, m.cfg.DefaultOwner)
	minStars, err := intParam(params, "min_stars", 0, 0, 1<<31)
	if err != nil {
		return protocol.Value{}, err
	}
	order, _ := params.String("sort")
	if order != "" && order != "stars" && order != "name" {
		return protocol.Value{}, protocol.NewHandlerError("param 'sort' must be 'stars' or 'name'", nil)
	}

	repos, err := m.fetch(ctx, owner)
	if err != nil {
		return protocol.Value{}, err
	}

	kept := repos[:0]
	for _, r := range repos {
		if r.Stars >= minStars {
			kept = append(kept, r)
		}
	}
	switch order {
	case "stars":
		sort.SliceStable(kept, func(i, j int) bool { return kept[i].Stars > kept[j].Stars })
	case "name":
		sort.SliceStable(kept, func(i, j int) bool { return kept[i].Name < kept[j].Name })
	}

	items := make([]protocol.Value, 0, len(kept))
	for _, r := range kept {
		items = append(items, protocol.Object(protocol.MapOf(
			"name", r.Name,
			"url", r.HTMLURL,
			"stars", r.Stars,
			"archived", r.Archived,
		)))
	}
	return protocol.Object(protocol.NewMap().
		Set("owner", protocol.String(owner)).
		Set("count", protocol.Int(int64(len(items)))).
		Set("repos", protocol.List(items...)),
	), nil
}

func (m *Inventory) fetch(ctx context.Context, owner string) ([]githubRepo, error) {
	endpoint := fmt.Sprintf("%s/users/%s/repos?per_page=%d",
		strings.TrimRight(m.cfg.BaseURL, "/"), url.PathEscape(owner), m.cfg.PerPage)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if m.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+m.cfg.Token)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, protocol.NewHandlerError(fmt.Sprintf("failed to reach GitHub for '%s'", owner), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, protocol.NewHandlerError(fmt.Sprintf("GitHub owner '%s' not found", owner), nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, protocol.NewHandlerError(
			fmt.Sprintf("GitHub returned %d for '%s'", resp.StatusCode, owner),
			fmt.Errorf("github: %s", strings.TrimSpace(string(body))),
		)
	}

	var repos []githubRepo
	if err := json.NewDecoder(resp.Body).Decode(&repos); err != nil {
		return nil, protocol.NewHandlerError("GitHub returned an unreadable repository list", err)
	}
	return repos, nil
}
