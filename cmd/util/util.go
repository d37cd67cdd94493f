package util

import (
	"fmt"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/serializer"
	"github.com/ValentinKolb/dLock/rpc/transport"
	"github.com/ValentinKolb/dLock/rpc/transport/http"
	"github.com/ValentinKolb/dLock/rpc/transport/tcp"
	"github.com/ValentinKolb/dLock/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"maps"
	"slices"
	"strings"
)

// Wrap is the column help texts are wrapped at
const Wrap int = 50

// WrapString breaks text into lines of at most Wrap characters. Words longer
// than Wrap get a line of their own.
func WrapString(text string) string {
	var b strings.Builder
	lineWidth := 0
	for _, word := range strings.Fields(text) {
		switch {
		case lineWidth == 0:
		case lineWidth+1+len(word) > Wrap:
			b.WriteByte('\n')
			lineWidth = 0
		default:
			b.WriteByte(' ')
			lineWidth++
		}
		b.WriteString(word)
		lineWidth += len(word)
	}
	return b.String()
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// InitConfig loads .env files and binds DLOCK_* environment variables
func InitConfig() {
	// .env.local does not override values already set by .env or the shell
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("dlock")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// SetupRPCClientFlags adds the flags read by GetClientConfig to cmd
func SetupRPCClientFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.Int("timeout", 10, WrapString("Timeout of a client command in seconds"))
	f.String("transport-endpoints", "http://localhost:8080", WrapString("Addresses of the dLock servers as a comma separated list. Requests are spread over all of them"))
	f.Int("transport-conn-per-endpoint", 1, WrapString("Connections per endpoint (tcp and unix)"))
	f.Int("transport-retries", 3, WrapString("How often a failed request is retried"))
	f.Int("transport-write-buffer", 512, WrapString("Socket write buffer in KB (tcp and unix)"))
	f.Int("transport-read-buffer", 512, WrapString("Socket read buffer in KB (tcp and unix)"))
	f.Bool("transport-tcp-nodelay", true, WrapString("Disable Nagle's algorithm (tcp)"))
	f.Int("transport-tcp-keepalive", 0, WrapString("Keep-alive interval in seconds, 0 disables it (tcp)"))
	f.Int("transport-tcp-linger", 0, WrapString("Linger time in seconds, 0 keeps the OS default (tcp)"))
}

// GetClientConfig builds the client config from the flags of SetupRPCClientFlags
func GetClientConfig() *common.ClientConfig {
	return &common.ClientConfig{
		TimeoutSecond: viper.GetInt("timeout"),
		Transport: common.ClientTransportConfig{
			RetryCount:             viper.GetInt("transport-retries"),
			Endpoints:              SplitList(viper.GetString("transport-endpoints")),
			ConnectionsPerEndpoint: viper.GetInt("transport-conn-per-endpoint"),
			SocketConf: common.SocketConf{
				WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
				ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
			},
			TCPConf: common.TCPConf{
				TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
				TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
				TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
			},
		},
	}
}

// SplitList splits a comma separated flag value, dropping blanks
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetShardID returns the shard the client commands talk to
func GetShardID() uint64 {
	return uint64(viper.GetInt("shard"))
}

// --------------------------------------------------------------------------
// Serializer and Transport
// --------------------------------------------------------------------------

var serializers = map[string]func() serializer.IRPCSerializer{
	"json":   serializer.NewJSONSerializer,
	"gob":    serializer.NewGOBSerializer,
	"binary": serializer.NewBinarySerializer,
}

type transportPair struct {
	client func() transport.IRPCClientTransport
	server func() transport.IRPCServerTransport
}

var transports = map[string]transportPair{
	"http": {http.NewHttpClientTransport, http.NewHttpServerTransport},
	"tcp":  {tcp.NewTCPClientTransport, tcp.NewTCPDefaultServerTransport},
	"unix": {unix.NewUnixClientTransport, unix.NewUnixDefaultServerTransport},
}

func choices[V any](m map[string]V) string {
	return strings.Join(slices.Sorted(maps.Keys(m)), ", ")
}

// GetSerializer returns the serializer selected by --serializer
func GetSerializer() (serializer.IRPCSerializer, error) {
	name := viper.GetString("serializer")
	newSerializer, ok := serializers[name]
	if !ok {
		return nil, fmt.Errorf("invalid serializer %q (choose one of %s)", name, choices(serializers))
	}
	return newSerializer(), nil
}

// GetTransport returns the client transport selected by --transport
func GetTransport() (transport.IRPCClientTransport, error) {
	pair, err := selectedTransport()
	if err != nil {
		return nil, err
	}
	return pair.client(), nil
}

// GetServerTransport returns the server transport selected by --transport
func GetServerTransport() (transport.IRPCServerTransport, error) {
	pair, err := selectedTransport()
	if err != nil {
		return nil, err
	}
	return pair.server(), nil
}

func selectedTransport() (transportPair, error) {
	name := viper.GetString("transport")
	pair, ok := transports[name]
	if !ok {
		return transportPair{}, fmt.Errorf("invalid transport %q (choose one of %s)", name, choices(transports))
	}
	return pair, nil
}
