package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"dramaforge/internal/api"
	"dramaforge/internal/config"
)

// annotationNoConfig marks commands that must run before a config exists.
const annotationNoConfig = "dramaforge.no-config"

func noConfig() map[string]string { return map[string]string{annotationNoConfig: "1"} }

func needsConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if _, ok := c.Annotations[annotationNoConfig]; ok {
			return false
		}
	}
	return true
}

type globalFlags struct {
	config string
	api    string
	token  string
	json   bool
}

// commandContext is shared by every subcommand of one invocation. The config
// is loaded at most once.
type commandContext struct {
	flags *globalFlags

	load        sync.Once
	cfg         *config.Config
	configPath  string
	configFound bool
	loadErr     error
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.load.Do(func() {
		cfg, path, found, err := config.Load(strings.TrimSpace(c.flags.config))
		if err == nil {
			err = cfg.EnsureDirectories()
		}
		if err != nil {
			c.loadErr = fmt.Errorf("load config: %w", err)
			return
		}
		c.cfg, c.configPath, c.configFound = cfg, path, found
	})
	return c.cfg, c.loadErr
}

// configValue is ensureConfig for callers that tolerate a nil config.
func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) jsonOutput() bool { return c.flags.json }

// client builds an API client, preferring --api and --token over the config.
func (c *commandContext) client() (*api.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return api.NewClient(
		firstNonEmpty(c.flags.api, cfg.Paths.APIBind),
		firstNonEmpty(c.flags.token, cfg.Paths.APIToken),
	), nil
}

// withClient runs fn against the daemon. Connection failures gain a hint
// about starting it.
func (c *commandContext) withClient(fn func(*api.Client) error) error {
	client, err := c.client()
	if err != nil {
		return err
	}
	err = fn(client)
	if err != nil && api.IsUnavailable(err) {
		return fmt.Errorf("connect to daemon: %w; start it with `dramaforge daemon start`", err)
	}
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
