package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/hvdkamer/relaydesk/internal/util"
)

type Config struct {
	Relay   Relay   `json:"relay"`
	History History `json:"history"`
	Media   Media   `json:"media"`
	Client  Client  `json:"client"`
	Log     Log     `json:"log"`
}

type Relay struct {
	// WebSocket endpoint of the relay, e.g. "wss://relay.example.org/ws".
	URL string `json:"url"`

	// Access token presented on connect. Usually supplied via the -token
	// flag or the RELAY_TOKEN environment variable; this field is the
	// fallback for unattended setups.
	Token string `json:"token"`

	// Keepalive probe interval. The read deadline is derived from this,
	// so raising it also makes dead-link detection slower.
	PingIntervalSec int `json:"ping_interval_seconds"`
}

type History struct {
	// REST base for history and file uploads, e.g. "https://relay.example.org".
	// Empty means derive it from relay.url (ws -> http, wss -> https).
	BaseURL string `json:"base_url"`
}

type Media struct {
	// ICE servers for call setup. stun:, turn: and turns: URLs.
	StunURLs []string `json:"stun_urls"`

	// Substring match against the device label. Empty picks the first
	// device the platform offers.
	PreferredCam string `json:"preferred_cam"`
	PreferredMic string `json:"preferred_mic"`

	// Audio-only calls. Useful on headless boxes without a camera.
	VideoDisabled bool `json:"video_disabled"`
}

type Client struct {
	// Staff roles: select the most recently active conversation
	// automatically after the roster resolves.
	AutoSelectRecent bool `json:"auto_select_recent"`

	// Page size for history fetches.
	HistoryLimit int `json:"history_limit"`

	// Conversation log cap. Oldest items fall off first.
	MaxItems int `json:"max_items"`
}

type Log struct {
	Level string `json:"level"`
}

func Default() Config {
	return Config{
		Relay: Relay{
			URL:             "ws://127.0.0.1:8000/ws",
			Token:           "",
			PingIntervalSec: 25,
		},
		History: History{
			BaseURL: "",
		},
		Media: Media{
			StunURLs:      []string{"stun:stun.l.google.com:19302"},
			PreferredCam:  "",
			PreferredMic:  "",
			VideoDisabled: false,
		},
		Client: Client{
			AutoSelectRecent: true,
			HistoryLimit:     50,
			MaxItems:         500,
		},
		Log: Log{
			Level: "info",
		},
	}
}

func (c *Config) Validate() error {
	// Relay
	if strings.TrimSpace(c.Relay.URL) == "" {
		return errors.New("relay.url is required")
	}
	if err := validateWSURL(c.Relay.URL); err != nil {
		return fmt.Errorf("relay.url: %w", err)
	}
	if c.Relay.PingIntervalSec <= 0 {
		return errors.New("relay.ping_interval_seconds must be > 0")
	}
	if c.Relay.PingIntervalSec > 300 {
		return errors.New("relay.ping_interval_seconds must be <= 300")
	}

	// History
	if h := strings.TrimSpace(c.History.BaseURL); h != "" {
		if err := validateHTTPURL(h); err != nil {
			return fmt.Errorf("history.base_url: %w", err)
		}
	}

	// Media
	for _, s := range c.Media.StunURLs {
		s = strings.TrimSpace(s)
		if s == "" {
			return errors.New("media.stun_urls must not contain empty entries")
		}
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "turn:") && !strings.HasPrefix(s, "turns:") {
			return errors.New("media.stun_urls entries must use the stun:, turn: or turns: scheme")
		}
	}

	// Client
	if c.Client.HistoryLimit < 1 || c.Client.HistoryLimit > 200 {
		return errors.New("client.history_limit must be 1..200")
	}
	if c.Client.MaxItems < 50 || c.Client.MaxItems > 5000 {
		return errors.New("client.max_items must be 50..5000")
	}

	// Log
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("log.level must be one of debug, info, warn, error")
	}

	return nil
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.New("scheme must be ws or wss")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return errors.New("invalid port")
		}
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// HistoryURL returns the REST base for history and uploads. When
// history.base_url is unset it is derived from relay.url by flipping the
// scheme (ws -> http, wss -> https) and dropping the path.
func (c *Config) HistoryURL() string {
	if h := strings.TrimSpace(c.History.BaseURL); h != "" {
		return strings.TrimRight(h, "/")
	}
	u, err := url.Parse(c.Relay.URL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = ""
	u.RawQuery = ""
	return strings.TrimRight(u.String(), "/")
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadPartial reads a config file without validation. Useful for reading
// individual fields when full validation may fail.
func LoadPartial(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	b = stripBOM(b)

	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
