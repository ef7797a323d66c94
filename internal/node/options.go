package node

import (
	"fmt"
	"net"
	"reflect"
	"strings"
)

// Default node network settings applied by DefaultOptions.
const (
	DefaultAPIIP   = "127.0.0.1"
	DefaultAPIPort = "9550"
	DefaultWSPort  = "9551"
	DefaultNodeIP  = "127.0.0.1"
	DefaultPort    = "9552"
)

// Options is the runtime configuration handed to the node through its
// environment. Every field is optional: nil means "not set", which lets
// partial option sets be merged on top of each other.
//
// The `env` tag names the environment variable the field is serialised to.
type Options struct {
	NodeAPIIP   *string `json:"node_api_ip,omitempty" yaml:"node_api_ip,omitempty" env:"NODE_API_IP"`
	NodeAPIPort *string `json:"node_api_port,omitempty" yaml:"node_api_port,omitempty" env:"NODE_API_PORT"`
	NodeWSPort  *string `json:"node_ws_port,omitempty" yaml:"node_ws_port,omitempty" env:"NODE_WS_PORT"`
	NodeIP      *string `json:"node_ip,omitempty" yaml:"node_ip,omitempty" env:"NODE_IP"`
	NodePort    *string `json:"node_port,omitempty" yaml:"node_port,omitempty" env:"NODE_PORT"`

	NodeStoragePath *string `json:"node_storage_path,omitempty" yaml:"node_storage_path,omitempty" env:"NODE_STORAGE_PATH"`

	UnstructuredServerURL    *string `json:"unstructured_server_url,omitempty" yaml:"unstructured_server_url,omitempty" env:"UNSTRUCTURED_SERVER_URL"`
	EmbeddingsServerURL      *string `json:"embeddings_server_url,omitempty" yaml:"embeddings_server_url,omitempty" env:"EMBEDDINGS_SERVER_URL"`
	DefaultEmbeddingModel    *string `json:"default_embedding_model,omitempty" yaml:"default_embedding_model,omitempty" env:"DEFAULT_EMBEDDING_MODEL"`
	SupportedEmbeddingModels *string `json:"supported_embedding_models,omitempty" yaml:"supported_embedding_models,omitempty" env:"SUPPORTED_EMBEDDING_MODELS"`

	FirstDeviceNeedsRegistrationCode *string `json:"first_device_needs_registration_code,omitempty" yaml:"first_device_needs_registration_code,omitempty" env:"FIRST_DEVICE_NEEDS_REGISTRATION_CODE"`
	StartingNumQRDevices             *string `json:"starting_num_qr_devices,omitempty" yaml:"starting_num_qr_devices,omitempty" env:"STARTING_NUM_QR_DEVICES"`

	InitialAgentNames   *string `json:"initial_agent_names,omitempty" yaml:"initial_agent_names,omitempty" env:"INITIAL_AGENT_NAMES"`
	InitialAgentURLs    *string `json:"initial_agent_urls,omitempty" yaml:"initial_agent_urls,omitempty" env:"INITIAL_AGENT_URLS"`
	InitialAgentModels  *string `json:"initial_agent_models,omitempty" yaml:"initial_agent_models,omitempty" env:"INITIAL_AGENT_MODELS"`
	InitialAgentAPIKeys *string `json:"initial_agent_api_keys,omitempty" yaml:"initial_agent_api_keys,omitempty" env:"INITIAL_AGENT_API_KEYS"`

	LogAll        *string `json:"log_all,omitempty" yaml:"log_all,omitempty" env:"LOG_ALL"`
	ProxyIdentity *string `json:"proxy_identity,omitempty" yaml:"proxy_identity,omitempty" env:"PROXY_IDENTITY"`
	RPCURL        *string `json:"rpc_url,omitempty" yaml:"rpc_url,omitempty" env:"RPC_URL"`
}

// DefaultOptions returns the options a fresh node starts from: loopback
// API/P2P bindings on the standard ports and the given storage path.
func DefaultOptions(storagePath string) Options {
	return Options{
		NodeAPIIP:       String(DefaultAPIIP),
		NodeAPIPort:     String(DefaultAPIPort),
		NodeWSPort:      String(DefaultWSPort),
		NodeIP:          String(DefaultNodeIP),
		NodePort:        String(DefaultPort),
		NodeStoragePath: String(storagePath),
	}
}

// String returns a pointer to s. It keeps option literals readable:
//
//	node.Options{NodeAPIPort: node.String("9550")}
func String(s string) *string {
	return &s
}

// Merge returns a copy of o with every field that is set in overlay
// replacing the corresponding field of o. Fields unset in overlay keep
// their value from o.
func (o Options) Merge(overlay Options) Options {
	merged := o.Clone()
	dst := reflect.ValueOf(&merged).Elem()
	src := reflect.ValueOf(overlay)

	for i := 0; i < src.NumField(); i++ {
		f := src.Field(i)
		if f.IsNil() {
			continue
		}
		v := f.Elem().String()
		dst.Field(i).Set(reflect.ValueOf(&v))
	}
	return merged
}

// Clone returns a deep copy of o. Mutating the copy's pointed-to values
// never affects o.
func (o Options) Clone() Options {
	var out Options
	dst := reflect.ValueOf(&out).Elem()
	src := reflect.ValueOf(o)

	for i := 0; i < src.NumField(); i++ {
		f := src.Field(i)
		if f.IsNil() {
			continue
		}
		v := f.Elem().String()
		dst.Field(i).Set(reflect.ValueOf(&v))
	}
	return out
}

// Env serialises the set fields into environment variables for the node
// process. Unset fields are omitted so the node applies its own defaults.
func (o Options) Env() map[string]string {
	env := make(map[string]string)
	t := reflect.TypeOf(o)
	v := reflect.ValueOf(o)

	for i := 0; i < t.NumField(); i++ {
		f := v.Field(i)
		if f.IsNil() {
			continue
		}
		name := t.Field(i).Tag.Get("env")
		if name == "" {
			name = strings.ToUpper(t.Field(i).Name)
		}
		env[name] = f.Elem().String()
	}
	return env
}

// BaseURL returns http://{ip}:{port} for the node API. IPv6 addresses
// are bracketed.
// It fails with ErrNotConfigured if either part is unset or empty.
func (o Options) BaseURL() (string, error) {
	if o.NodeAPIIP == nil || *o.NodeAPIIP == "" {
		return "", fmt.Errorf("%w: node_api_ip is not set", ErrNotConfigured)
	}
	if o.NodeAPIPort == nil || *o.NodeAPIPort == "" {
		return "", fmt.Errorf("%w: node_api_port is not set", ErrNotConfigured)
	}
	return "http://" + net.JoinHostPort(*o.NodeAPIIP, *o.NodeAPIPort), nil
}

// StoragePath returns the configured storage directory.
func (o Options) StoragePath() (string, error) {
	if o.NodeStoragePath == nil || *o.NodeStoragePath == "" {
		return "", fmt.Errorf("%w: node_storage_path is not set", ErrNotConfigured)
	}
	return *o.NodeStoragePath, nil
}
