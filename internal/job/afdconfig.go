// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package job

import (
	"bufio"
	"os"
	"strings"
)

// AFDConfig holds the subset of <work_dir>/etc/AFD_CONFIG directives this
// worker cares about. AFD_CONFIG is shared, line-oriented text read by
// every AFD binary, not the YAML the rest of this repo's ambient config
// would otherwise use — see SPEC_FULL.md §6.
type AFDConfig struct {
	ShowLogPriority bool
}

// ReadAFDConfig reads <work_dir>/etc/AFD_CONFIG looking for the
// SHOW_LOG_PRIORITY directive. A missing file is not an error: AFD_CONFIG
// is optional from this worker's point of view, and absence just means
// default (false) behavior.
func ReadAFDConfig(workDir string) (AFDConfig, error) {
	cfg := AFDConfig{}

	path := workDir + "/etc/AFD_CONFIG"
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if strings.EqualFold(fields[0], "SHOW_LOG_PRIORITY") {
			cfg.ShowLogPriority = true
		}
	}
	return cfg, scanner.Err()
}
