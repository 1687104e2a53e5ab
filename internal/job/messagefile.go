// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package job

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// MessageFile is the parsed per-job config read from disk, per spec.md §6:
//
//	[destination]
//	<scheme>://<user>[:<password>]@<host>[:<port>]/<url-path>
//
//	[options]
//	<option> <args>
//	...
type MessageFile struct {
	Scheme   string
	User     string
	Password string
	Host     string
	Port     int
	URLPath  string
	Options  map[string][]string // key -> whitespace-split args, in file order per key's last occurrence
}

// ParseMessageFile reads and parses the message file at path. Any
// unreadable or structurally invalid input is an INIT_ERROR per spec.md
// §4.1 (the caller is expected to wrap this into that exit code).
func ParseMessageFile(path string) (*MessageFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening message file: %w", err)
	}
	defer f.Close()

	mf := &MessageFile{Options: make(map[string][]string)}

	section := ""
	scanner := bufio.NewScanner(f)
	sawDestination := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(line, "["), "]"))
			continue
		}

		switch section {
		case "destination":
			if err := mf.parseDestination(line); err != nil {
				return nil, fmt.Errorf("parsing destination: %w", err)
			}
			sawDestination = true
		case "options":
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}
			key := strings.ToLower(fields[0])
			mf.Options[key] = fields[1:]
		default:
			return nil, fmt.Errorf("message file line outside any section: %q", line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading message file: %w", err)
	}

	if !sawDestination {
		return nil, fmt.Errorf("message file missing [destination] section")
	}

	return mf, nil
}

func (mf *MessageFile) parseDestination(line string) error {
	u, err := url.Parse(line)
	if err != nil {
		return fmt.Errorf("invalid destination URI %q: %w", line, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("destination URI %q missing scheme or host", line)
	}

	mf.Scheme = u.Scheme
	if u.User != nil {
		mf.User = u.User.Username()
		mf.Password, _ = u.User.Password()
	}

	host := u.Hostname()
	port := u.Port()
	mf.Host = host
	if port != "" {
		p, convErr := strconv.Atoi(port)
		if convErr != nil {
			return fmt.Errorf("invalid port %q: %w", port, convErr)
		}
		mf.Port = p
	} else if mf.Scheme == "https" {
		mf.Port = 443
	} else {
		mf.Port = 80
	}

	mf.URLPath = u.Path
	return nil
}

// OptionString returns the first argument of option key, or def if the
// option is absent.
func (mf *MessageFile) OptionString(key, def string) string {
	args, ok := mf.Options[strings.ToLower(key)]
	if !ok || len(args) == 0 {
		return def
	}
	return args[0]
}

// OptionDuration parses option key's first argument as seconds.
func (mf *MessageFile) OptionDuration(key string, def time.Duration) time.Duration {
	args, ok := mf.Options[strings.ToLower(key)]
	if !ok || len(args) == 0 {
		return def
	}
	secs, err := strconv.Atoi(args[0])
	if err != nil {
		return def
	}
	return time.Duration(secs) * time.Second
}

// OptionBool reports whether option key is present at all (flag-style
// options carry no arguments).
func (mf *MessageFile) OptionBool(key string) bool {
	_, ok := mf.Options[strings.ToLower(key)]
	return ok
}

// OptionInt parses option key's first argument as an int.
func (mf *MessageFile) OptionInt(key string, def int) int {
	args, ok := mf.Options[strings.ToLower(key)]
	if !ok || len(args) == 0 {
		return def
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return def
	}
	return n
}
