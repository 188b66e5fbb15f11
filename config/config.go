package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/SyndicLabs/syndic/topology"
)

const (
	StoreDirName = "store"
)

// Peer is an inbound identity: a remote node allowed to call this one. The
// API key is stored as a bcrypt hash; the raw key lives only on the caller.
type Peer struct {
	Org      string `yaml:"org"`
	KeyHash  string `yaml:"keyHash"`
	Internal bool   `yaml:"internal"`
}

// LinkConfig is an outbound link as written in the node file.
type LinkConfig struct {
	Name      string `yaml:"name"`
	Endpoint  string `yaml:"endpoint"`
	ApiKey    string `yaml:"apiKey"`
	RemoteOrg string `yaml:"remoteOrg"`
	Push      bool   `yaml:"push"`
	Pull      bool   `yaml:"pull"`
	Internal  bool   `yaml:"internal"`
}

type TLS struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type Cache struct {
	MembershipTTL time.Duration `yaml:"membership-ttl"`
}

type RateLimiterConfig struct {
	Limit float64 `yaml:"limit"` // Requests per second
	Burst int     `yaml:"burst"` // Burst size
}

type RateLimiters struct {
	Sync    RateLimiterConfig `yaml:"sync"`
	Feed    RateLimiterConfig `yaml:"feed"`
	Default RateLimiterConfig `yaml:"default"`
}

type FeedConfig struct {
	ChannelSize              int `yaml:"channelSize"`
	WebSocketReadBufferSize  int `yaml:"webSocketReadBufferSize"`
	WebSocketWriteBufferSize int `yaml:"webSocketWriteBufferSize"`
	MaxConnections           int `yaml:"maxConnections"`
}

type Node struct {
	NodeName         string          `yaml:"nodeName"`
	Org              string          `yaml:"org"`
	HttpBinding      string          `yaml:"httpBinding"`
	DataDir          string          `yaml:"dataDir"`
	AdminKeyHash     string          `yaml:"adminKeyHash"`
	ClientSkipVerify bool            `yaml:"clientSkipVerify"`
	TLS              TLS             `yaml:"tls"`
	Cache            Cache           `yaml:"cache"`
	RateLimiters     RateLimiters    `yaml:"rateLimiters"`
	Feed             FeedConfig      `yaml:"feed"`
	Peers            map[string]Peer `yaml:"peers"`
	Links            []LinkConfig    `yaml:"links"`
}

var (
	ErrConfigFileUnreadable         = errors.New("config file is unreadable")
	ErrConfigFileUnmarshallable     = errors.New("config file is unmarshallable")
	ErrNodeNameMissing              = errors.New("nodeName is missing in config")
	ErrOrgMissing                   = errors.New("org is missing in config")
	ErrHttpBindingMissing           = errors.New("httpBinding is missing in config")
	ErrDataDirMissing               = errors.New("dataDir is missing in config and is required for the store")
	ErrAdminKeyHashMissing          = errors.New("adminKeyHash is missing in config")
	ErrTLSMissing                   = errors.New("TLS configuration incomplete: both cert and key must be provided if one is specified")
	ErrPeerOrgMissing               = errors.New("every peer requires an org")
	ErrPeerKeyHashMissing           = errors.New("every peer requires a keyHash")
	ErrLinkNameMissing              = errors.New("every link requires a name")
	ErrLinkEndpointMissing          = errors.New("every link requires an endpoint")
	ErrLinkApiKeyMissing            = errors.New("every link requires an apiKey")
	ErrLinkRemoteOrgMissing         = errors.New("every link requires a remoteOrg")
	ErrDuplicateLinkName            = errors.New("duplicate link name in config - each link must be uniquely named")
	ErrRateLimitersSyncLimitMissing = errors.New("rateLimiters.sync.limit is missing in config")
	ErrRateLimitersFeedLimitMissing = errors.New("rateLimiters.feed.limit is missing in config")
	ErrRateLimitersDefaultMissing   = errors.New("rateLimiters.default.limit is missing in config")
	ErrFeedChannelSizeMissing       = errors.New("feed.channelSize is missing or invalid in config")
	ErrFeedReadBufferSizeMissing    = errors.New("feed.webSocketReadBufferSize is missing or invalid in config")
	ErrFeedWriteBufferSizeMissing   = errors.New("feed.webSocketWriteBufferSize is missing or invalid in config")
	ErrFeedMaxConnectionsMissing    = errors.New("feed.maxConnections is missing or invalid in config")
	ErrCacheMembershipTTLMissing    = errors.New("cache.membership-ttl is missing in config")
)

func LoadConfig(configFile string) (*Node, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, ErrConfigFileUnreadable
	}

	var cfg Node
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, ErrConfigFileUnmarshallable
	}

	if cfg.NodeName == "" {
		return nil, ErrNodeNameMissing
	}
	if cfg.Org == "" {
		return nil, ErrOrgMissing
	}
	if cfg.HttpBinding == "" {
		return nil, ErrHttpBindingMissing
	}
	if cfg.DataDir == "" {
		return nil, ErrDataDirMissing
	}
	if cfg.AdminKeyHash == "" {
		return nil, ErrAdminKeyHashMissing
	}
	if (cfg.TLS.Cert == "") != (cfg.TLS.Key == "") {
		return nil, ErrTLSMissing
	}

	for _, peer := range cfg.Peers {
		if peer.Org == "" {
			return nil, ErrPeerOrgMissing
		}
		if peer.KeyHash == "" {
			return nil, ErrPeerKeyHashMissing
		}
	}

	seenLinks := make(map[string]bool)
	for _, link := range cfg.Links {
		if link.Name == "" {
			return nil, ErrLinkNameMissing
		}
		if link.Endpoint == "" {
			return nil, ErrLinkEndpointMissing
		}
		if link.ApiKey == "" {
			return nil, ErrLinkApiKeyMissing
		}
		if link.RemoteOrg == "" {
			return nil, ErrLinkRemoteOrgMissing
		}
		if seenLinks[link.Name] {
			return nil, ErrDuplicateLinkName
		}
		seenLinks[link.Name] = true
	}

	if cfg.RateLimiters.Sync.Limit == 0 {
		return nil, ErrRateLimitersSyncLimitMissing
	}
	if cfg.RateLimiters.Feed.Limit == 0 {
		return nil, ErrRateLimitersFeedLimitMissing
	}
	if cfg.RateLimiters.Default.Limit == 0 {
		return nil, ErrRateLimitersDefaultMissing
	}

	if cfg.Feed.ChannelSize <= 0 {
		return nil, ErrFeedChannelSizeMissing
	}
	if cfg.Feed.WebSocketReadBufferSize <= 0 {
		return nil, ErrFeedReadBufferSizeMissing
	}
	if cfg.Feed.WebSocketWriteBufferSize <= 0 {
		return nil, ErrFeedWriteBufferSizeMissing
	}
	if cfg.Feed.MaxConnections <= 0 {
		return nil, ErrFeedMaxConnectionsMissing
	}

	if cfg.Cache.MembershipTTL == 0 {
		return nil, ErrCacheMembershipTTLMissing
	}

	return &cfg, nil
}

// TopologyLinks maps the configured links into the registry form.
func (n *Node) TopologyLinks() []topology.Link {
	out := make([]topology.Link, 0, len(n.Links))
	for _, l := range n.Links {
		out = append(out, topology.Link{
			Name:      l.Name,
			Endpoint:  l.Endpoint,
			APIKey:    l.ApiKey,
			RemoteOrg: l.RemoteOrg,
			Push:      l.Push,
			Pull:      l.Pull,
			Internal:  l.Internal,
		})
	}
	return out
}

// GenerateConfig writes a commented starter file to the given path.
func GenerateConfig(path string) error {
	template := `nodeName: node-0
org: org-local
httpBinding: 0.0.0.0:8444
dataDir: ./syndic-data

# bcrypt hash of the admin api key used by syndicc
adminKeyHash: "REPLACE_ME"

tls:
  cert: ""
  key: ""

cache:
  membership-ttl: 1m

rateLimiters:
  sync:
    limit: 50
    burst: 100
  feed:
    limit: 10
    burst: 20
  default:
    limit: 25
    burst: 50

feed:
  channelSize: 1024
  webSocketReadBufferSize: 1024
  webSocketWriteBufferSize: 1024
  maxConnections: 128

# Inbound peers, keyed by name. keyHash is a bcrypt hash of the key the
# peer presents; internal marks the peer as part of this trust domain.
peers:
  partner-a:
    org: org-partner-a
    keyHash: "REPLACE_ME"
    internal: false

# Outbound links.
links:
  - name: partner-a
    endpoint: partner-a.example.net:8444
    apiKey: "REPLACE_ME"
    remoteOrg: org-partner-a
    push: true
    pull: true
    internal: false
`
	return os.WriteFile(path, []byte(template), 0644)
}
