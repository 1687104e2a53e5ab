// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package job

// HostToggle is the two-entry primary/secondary hostname scheme's active
// side, persisted in the FSA entry between runs.
type HostToggle int

const (
	ToggleToPrimary HostToggle = iota
	ToggleToSecondary
)

// ResolveHost picks which real hostname this run uses, per spec.md §4.1:
//
//   - if only primary exists, primary;
//   - else if toggle-host is requested, the opposite of the current
//     host_toggle;
//   - else the current host_toggle.
//
// It also returns the HostToggle value that should be written back to the
// FSA (unchanged unless the toggle flag flipped it) and whether the
// secondary host was chosen.
func ResolveHost(primary, secondary string, current HostToggle, toggleRequested bool) (resolved string, next HostToggle, usedSecondary bool) {
	if secondary == "" {
		return primary, current, false
	}

	next = current
	if toggleRequested {
		next = opposite(current)
	}

	if next == ToggleToSecondary {
		return secondary, next, true
	}
	return primary, next, false
}

func opposite(t HostToggle) HostToggle {
	if t == ToggleToPrimary {
		return ToggleToSecondary
	}
	return ToggleToPrimary
}

// ApplyTransRenameSuppression implements the TRANS_RENAME_PRIMARY_ONLY
// interaction from spec.md §4.1: if that flag is set but the chosen host is
// secondary, trans-rename is suppressed for this run. There is no
// secondary-only counterpart: a run on the primary host never has
// trans-rename suppressed.
func ApplyTransRenameSuppression(f Flags, usedSecondary bool) Flags {
	if f.TransRenamePrimary && usedSecondary {
		f.TransRename = false
	}
	return f
}
