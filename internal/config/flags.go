package config

import (
	"errors"
	"flag"
	"net"
	"strconv"
	"strings"
	"time"
)

// NetAddress holds structured network address data for host and port.
// It implements the flag.Value interface.
type NetAddress struct {
	Host string
	Port int
}

// ParseFlags parses all configuration flags.
//
// Flags:
//
//	-a server address in format [host]:[port]
//	-d server database DSN
//	-r data root directory for user collections
//	-c/-config json file path with configs
//	-password-hash-key password hash key
//	-session-ttl session retention (e.g., "720h"; 0 disables eviction)
//	-base-url collection-sync URL prefix
//	-base-media-url media-sync URL prefix
//	-request-timeout request timeout (e.g., "30s", "1m")
//	-idle-timeout collection idle-close timeout (e.g., "1m")
func ParseFlags() *StructuredConfig {
	var serverAddress NetAddress
	var databaseDSN string
	var dataRoot string
	var jsonConfigPath string
	var passwordHashKey string
	var sessionTTL time.Duration
	var baseURL string
	var baseMediaURL string
	var requestTimeout time.Duration
	var idleTimeout time.Duration

	flag.Var(&serverAddress, "a", "Net address host:port")
	flag.StringVar(&databaseDSN, "d", "", "Server database DSN")
	flag.StringVar(&dataRoot, "r", "", "Data root directory for user collections")
	flag.StringVar(&jsonConfigPath, "c", "", "JSON config file path")
	flag.StringVar(&jsonConfigPath, "config", "", "JSON config file path (alias)")
	flag.StringVar(&passwordHashKey, "password-hash-key", "", "Password hash key")
	flag.DurationVar(&sessionTTL, "session-ttl", 0, "Session retention (0 disables eviction)")
	flag.StringVar(&baseURL, "base-url", "", "Collection-sync URL prefix")
	flag.StringVar(&baseMediaURL, "base-media-url", "", "Media-sync URL prefix")
	flag.DurationVar(&requestTimeout, "request-timeout", 0, "Request timeout (e.g., 30s, 1m)")
	flag.DurationVar(&idleTimeout, "idle-timeout", 0, "Collection idle-close timeout (e.g., 1m)")

	flag.Parse()

	return &StructuredConfig{
		App: App{
			PasswordHashKey: passwordHashKey,
			SessionTTL:      sessionTTL,
		},
		Storage: Storage{
			DB: DB{
				DSN: databaseDSN,
			},
			Files: Files{
				DataRoot: dataRoot,
			},
		},
		Server: Server{
			HTTPAddress:    serverAddress.String(),
			RequestTimeout: requestTimeout,
			BaseURL:        baseURL,
			BaseMediaURL:   baseMediaURL,
		},
		Workers: Workers{
			CollectionIdleTimeout: idleTimeout,
		},
		JSONFilePath: jsonConfigPath,
	}
}

// String returns a canonical host:port string for a NetAddress.
// If neither Host nor Port are set, it returns the empty string.
func (a *NetAddress) String() string {
	if a.Host == "" && a.Port == 0 {
		return ""
	}

	return a.Host + ":" + strconv.Itoa(a.Port)
}

// Set parses the input string of form host:port and populates the NetAddress.
// It validates the port range, checks IP correctness unless host is "localhost",
// and returns an error if the format or values are invalid.
func (a *NetAddress) Set(s string) error {
	hostAndPort := strings.Split(s, ":")
	if len(hostAndPort) != 2 {
		return errors.New("need address in a form `host:port`")
	}

	host := hostAndPort[0]
	port, err := strconv.Atoi(hostAndPort[1])
	if err != nil {
		return err
	}

	if port < 1 {
		return errors.New("port number is a positive integer")
	}

	if host != "" && host != "localhost" {
		ip := net.ParseIP(hostAndPort[0])
		if ip == nil {
			return errors.New("incorrect IP-address provided")
		}
	}

	a.Host = host
	a.Port = port
	return nil
}
