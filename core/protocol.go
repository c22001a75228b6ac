package core

// Protocol keywords and the line terminator.
const (
	opInfo    = "INFO"
	opConnect = "CONNECT"
	opSub     = "SUB"
	opUnsub   = "UNSUB"
	opPub     = "PUB"
	opMsg     = "MSG"
	opPing    = "PING"
	opPong    = "PONG"
	opOK      = "+OK"
	opErr     = "-ERR"

	crlf = "\r\n"
)

const (
	defaultLang    = "go"
	libraryVersion = "0.3.0"
)

// ConnectOptions is the CONNECT payload. It is copied when the handshake
// begins; later changes to the caller's value have no effect.
type ConnectOptions struct {
	Verbose     bool   `json:"verbose" mapstructure:"verbose"`
	Pedantic    bool   `json:"pedantic" mapstructure:"pedantic"`
	TLSRequired bool   `json:"tls_required" mapstructure:"-"`
	AuthToken   string `json:"auth_token,omitempty" mapstructure:"auth_token"`
	User        string `json:"user,omitempty" mapstructure:"user"`
	Pass        string `json:"pass,omitempty" mapstructure:"pass"`
	Name        string `json:"name,omitempty" mapstructure:"name"`
	Lang        string `json:"lang" mapstructure:"lang"`
	Version     string `json:"version" mapstructure:"version"`
	Protocol    int    `json:"protocol" mapstructure:"protocol"`
	Echo        *bool  `json:"echo,omitempty" mapstructure:"echo"`
}

// DefaultConnectOptions returns quiet, non-pedantic options identifying this
// library.
func DefaultConnectOptions() ConnectOptions {
	return ConnectOptions{
		Lang:    defaultLang,
		Version: libraryVersion,
	}
}

func (o ConnectOptions) withDefaults() ConnectOptions {
	if o.Lang == "" {
		o.Lang = defaultLang
	}
	if o.Version == "" {
		o.Version = libraryVersion
	}
	return o
}

// ServerInfo is the INFO payload advertised by the server.
type ServerInfo struct {
	ServerID     string `json:"server_id"`
	ServerName   string `json:"server_name,omitempty"`
	Version      string `json:"version"`
	GoVersion    string `json:"go,omitempty"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	MaxPayload   int64  `json:"max_payload"`
	Proto        int    `json:"proto,omitempty"`
	AuthRequired bool   `json:"auth_required,omitempty"`
	TLSRequired  bool   `json:"tls_required,omitempty"`
	ClientID     uint64 `json:"client_id,omitempty"`
}
