package config

import (
	"net"
	"strconv"
	"time"
)

// Resolution is the requested display size in pixels.
type Resolution struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Config holds the run parameters. It is created once at startup and is
// read-only afterwards.
type Config struct {
	Host               string     `yaml:"host"`
	Port               int        `yaml:"port"`
	Seed               *int64     `yaml:"seed,omitempty"`
	Sync               bool       `yaml:"sync"`
	FixedDeltaSeconds  float64    `yaml:"fixed_delta_seconds"`
	TimeoutSeconds     float64    `yaml:"timeout_seconds"`
	TickTimeoutSeconds float64    `yaml:"tick_timeout_seconds"`
	Resolution         Resolution `yaml:"resolution"`
	Agent              string     `yaml:"agent"`
	Behavior           string     `yaml:"behavior"`
	Loop               bool       `yaml:"loop"`
	Verbose            bool       `yaml:"verbose"`
	Headless           bool       `yaml:"headless"`
	TargetSpeed        float64    `yaml:"target_speed"`
	VehicleFilter      string     `yaml:"vehicle_filter"`
	MaxFrames          int        `yaml:"max_frames"`
	Record             string     `yaml:"record,omitempty"`
	History            bool       `yaml:"history"`
}

// Address returns host:port.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Timeout returns the per-request timeout.
func (c *Config) Timeout() time.Duration {
	return seconds(c.TimeoutSeconds)
}

// TickTimeout returns the bound on an asynchronous wait. Zero means unbounded.
func (c *Config) TickTimeout() time.Duration {
	return seconds(c.TickTimeoutSeconds)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Agent variants.
const (
	AgentBasic    = "Basic"
	AgentConstant = "Constant"
	AgentBehavior = "Behavior"
)

// Behavior profiles.
const (
	BehaviorCautious   = "cautious"
	BehaviorNormal     = "normal"
	BehaviorAggressive = "aggressive"
)

// Agents lists the accepted agent values.
var Agents = []string{AgentBasic, AgentConstant, AgentBehavior}

// Behaviors lists the accepted behavior values.
var Behaviors = []string{BehaviorCautious, BehaviorNormal, BehaviorAggressive}
