package config

import (
	"errors"
	"flag"
	"fmt"
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

// ParseFlags parses configuration flags from args (typically os.Args[1:]).
//
// Flags:
//
//	-a sync server address in format [host]:[port]
//	-d database DSN (SQLite file path)
//	-prefs preferences file path
//	-c/-config json file path with configs
//	-name client name
//	-hash-key commit integrity hash key
//	-types comma separated enabled model types
//	-email account email
//	-request-timeout request timeout (e.g., "30s", "1m")
//	-poll-interval normal-mode poll interval
//	-save-interval store flush interval
//	-log log file path
func ParseFlags(args []string) (*StructuredConfig, error) {
	var serverAddress NetAddress
	var databaseDSN string
	var prefsPath string
	var jsonConfigPath string
	var name string
	var hashKey string
	var enabledTypes string
	var email string
	var requestTimeout time.Duration
	var pollInterval time.Duration
	var saveInterval time.Duration
	var logPath string

	fs := flag.NewFlagSet("syncclient", flag.ContinueOnError)
	fs.Var(&serverAddress, "a", "Sync server net address host:port")
	fs.StringVar(&databaseDSN, "d", "", "Database DSN")
	fs.StringVar(&prefsPath, "prefs", "", "Preferences file path")
	fs.StringVar(&jsonConfigPath, "c", "", "JSON config file path")
	fs.StringVar(&jsonConfigPath, "config", "", "JSON config file path (alias)")
	fs.StringVar(&name, "name", "", "Client name")
	fs.StringVar(&hashKey, "hash-key", "", "Commit integrity hash key")
	fs.StringVar(&enabledTypes, "types", "", "Enabled model types (comma separated)")
	fs.StringVar(&email, "email", "", "Account email")
	fs.DurationVar(&requestTimeout, "request-timeout", 0, "Request timeout (e.g., 30s, 1m)")
	fs.DurationVar(&pollInterval, "poll-interval", 0, "Poll interval (e.g., 30m)")
	fs.DurationVar(&saveInterval, "save-interval", 0, "Store flush interval (e.g., 10s)")
	fs.StringVar(&logPath, "log", "", "Log file path")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("error parsing flags: %w", err)
	}

	return &StructuredConfig{
		App: App{
			Name:         name,
			HashKey:      hashKey,
			EnabledTypes: enabledTypes,
		},
		Adapter: Adapter{
			HTTPAddress:    serverAddress.String(),
			RequestTimeout: requestTimeout,
		},
		Storage: Storage{
			DB: DB{
				DSN: databaseDSN,
			},
			PrefsPath: prefsPath,
		},
		Workers: Workers{
			PollInterval: pollInterval,
			SaveInterval: saveInterval,
		},
		Account:      Account{Email: email},
		Log:          Log{Path: logPath},
		JSONFilePath: jsonConfigPath,
	}, nil
}

// String returns a canonical host:port string for a NetAddress.
// If neither Host nor Port are set, it returns the default server address.
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

	if host != "localhost" {
		ip := net.ParseIP(hostAndPort[0])
		if ip == nil {
			return errors.New("incorrect IP-address provided")
		}
	}

	a.Host = host
	a.Port = port
	return nil
}
