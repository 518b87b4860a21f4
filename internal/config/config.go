// Package config loads the plain-text group configuration file shared
// by every role: one "<key> <ip> <port>" line per multicast group (spec
// §6).
package config

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"github.com/arnovale/synod/internal/transport"
)

// requiredKeys are the group names every config file must define.
var requiredKeys = []string{"proposers", "acceptors", "learners"}

// Config is the parsed group configuration: a multicast IP and port for
// each of the three groups.
type Config struct {
	Groups transport.GroupAddrs
}

// Load reads and parses a configuration file. Malformed lines are
// logged as warnings and skipped, matching the reference loader's
// tolerance for stray/commented lines; a missing or unreadable file, or
// one missing a required group, is a hard error.
func Load(path string, logger log.Logger) (*Config, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open config file %q", path)
	}
	defer f.Close()
	return parse(f, logger)
}

func parse(r io.Reader, logger log.Logger) (*Config, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	groups := make(transport.GroupAddrs)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			level.Warn(logger).Log("msg", "skipping malformed config line", "line", lineNo, "text", line)
			continue
		}
		key, ip, portStr := fields[0], fields[1], fields[2]
		addr, err := parseGroupAddr(ip, portStr)
		if err != nil {
			level.Warn(logger).Log("msg", "skipping malformed config line", "line", lineNo, "text", line, "err", err)
			continue
		}
		groups[transport.Group(key)] = addr
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	var missing []string
	for _, key := range requiredKeys {
		if _, ok := groups[transport.Group(key)]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, errors.Errorf("config file missing required group(s): %s", strings.Join(missing, ", "))
	}

	return &Config{Groups: groups}, nil
}

func parseGroupAddr(ip, portStr string) (transport.Addr, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		return transport.Addr{}, fmt.Errorf("not an IPv4 address: %q", ip)
	}
	if !parsed.IsMulticast() {
		return transport.Addr{}, fmt.Errorf("not a multicast address: %q", ip)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return transport.Addr{}, fmt.Errorf("invalid port: %q", portStr)
	}
	return transport.Addr{IP: ip, Port: port}, nil
}
