// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package job

import "testing"

func TestResolveHost_PrimaryOnly(t *testing.T) {
	resolved, next, secondary := ResolveHost("primary.example", "", ToggleToSecondary, true)
	if resolved != "primary.example" {
		t.Errorf("expected primary.example, got %q", resolved)
	}
	if next != ToggleToSecondary {
		t.Errorf("toggle should be unchanged when no secondary exists, got %v", next)
	}
	if secondary {
		t.Errorf("usedSecondary should be false with no secondary host")
	}
}

func TestResolveHost_NoToggleRequested(t *testing.T) {
	resolved, next, secondary := ResolveHost("primary.example", "secondary.example", ToggleToSecondary, false)
	if resolved != "secondary.example" {
		t.Errorf("expected current toggle (secondary), got %q", resolved)
	}
	if next != ToggleToSecondary {
		t.Errorf("expected toggle unchanged, got %v", next)
	}
	if !secondary {
		t.Errorf("expected usedSecondary true")
	}
}

func TestResolveHost_ToggleRequestedFlips(t *testing.T) {
	resolved, next, secondary := ResolveHost("primary.example", "secondary.example", ToggleToPrimary, true)
	if resolved != "secondary.example" {
		t.Errorf("expected flipped-to-secondary, got %q", resolved)
	}
	if next != ToggleToSecondary {
		t.Errorf("expected next toggle secondary, got %v", next)
	}
	if !secondary {
		t.Errorf("expected usedSecondary true")
	}
}

func TestApplyTransRenameSuppression(t *testing.T) {
	cases := []struct {
		name          string
		flags         Flags
		usedSecondary bool
		wantRename    bool
	}{
		{"primary-only rule, used secondary -> suppressed", Flags{TransRename: true, TransRenamePrimary: true}, true, false},
		{"primary-only rule, used primary -> unaffected", Flags{TransRename: true, TransRenamePrimary: true}, false, true},
		{"no rule -> unaffected", Flags{TransRename: true}, true, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ApplyTransRenameSuppression(c.flags, c.usedSecondary)
			if got.TransRename != c.wantRename {
				t.Errorf("TransRename = %v, want %v", got.TransRename, c.wantRename)
			}
		})
	}
}
