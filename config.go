package qrelay

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// Config is the server's static configuration (§6.2), loaded from a
// line-based "Key=Value" file with '#' comments. Unrecognized keys are
// ignored so older config files keep working against newer binaries.
type Config struct {
	ServerPort              int
	ServerCertFilePath      string
	ServerKeyFilePath       string
	ServerMaxClientCount    int
	ServerConnectionTimeoutS int

	MySQLAddress  string
	MySQLPort     int
	MySQLUser     string
	MySQLPassword string
	MySQLDatabase string
}

// defaultConfig returns the documented defaults for every optional key
// (§6.2): ServerMaxClientCount=1024, ServerConnectionTimeoutS=60,
// MySQLPort=33060.
func defaultConfig() Config {
	return Config{
		ServerMaxClientCount:    1024,
		ServerConnectionTimeoutS: 60,
		MySQLPort:               33060,
	}
}

// LoadConfig reads path and applies recognized keys on top of the
// defaults. A line is a comment once it starts with '#' (leading
// whitespace trimmed first); blank lines are skipped.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	f, err := os.Open(path)
	if err != nil {
		return Config{}, Wrap(CategoryProtocol, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		applyConfigKey(&cfg, key, value)
	}
	if err := scanner.Err(); err != nil {
		return Config{}, Wrap(CategoryProtocol, err)
	}
	return cfg, nil
}

func applyConfigKey(cfg *Config, key, value string) {
	switch key {
	case "ServerPort":
		cfg.ServerPort = atoiOr(value, cfg.ServerPort)
	case "ServerCertFilePath":
		cfg.ServerCertFilePath = value
	case "ServerKeyFilePath":
		cfg.ServerKeyFilePath = value
	case "ServerMaxClientCount":
		cfg.ServerMaxClientCount = atoiOr(value, cfg.ServerMaxClientCount)
	case "ServerConnectionTimeoutS":
		cfg.ServerConnectionTimeoutS = atoiOr(value, cfg.ServerConnectionTimeoutS)
	case "MySQLAddress":
		cfg.MySQLAddress = value
	case "MySQLPort":
		cfg.MySQLPort = atoiOr(value, cfg.MySQLPort)
	case "MySQLUser":
		cfg.MySQLUser = value
	case "MySQLPassword":
		cfg.MySQLPassword = value
	case "MySQLDatabase":
		cfg.MySQLDatabase = value
	default:
		// unrecognized key: ignored (§6.2).
	}
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

// StoreConfig projects the MySQL-related fields into the shape store.go expects.
func (c Config) StoreConfig() StoreConfig {
	return StoreConfig{
		Address:  c.MySQLAddress,
		Port:     c.MySQLPort,
		User:     c.MySQLUser,
		Password: c.MySQLPassword,
		Database: c.MySQLDatabase,
	}
}
