// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package job

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadAFDConfig_Present(t *testing.T) {
	workDir := t.TempDir()
	etcDir := filepath.Join(workDir, "etc")
	if err := os.MkdirAll(etcDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(etcDir, "AFD_CONFIG"), []byte("SHOW_LOG_PRIORITY\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := ReadAFDConfig(workDir)
	if err != nil {
		t.Fatalf("ReadAFDConfig: %v", err)
	}
	if !cfg.ShowLogPriority {
		t.Errorf("expected ShowLogPriority true")
	}
}

func TestReadAFDConfig_Absent(t *testing.T) {
	cfg, err := ReadAFDConfig(t.TempDir())
	if err != nil {
		t.Fatalf("ReadAFDConfig should not error on missing file: %v", err)
	}
	if cfg.ShowLogPriority {
		t.Errorf("expected default false")
	}
}
