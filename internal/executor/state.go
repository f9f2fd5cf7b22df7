/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package executor

import (
	"math"
	"time"

	"github.com/friendsincode/shopfloor/internal/models"
)

// Action is an execution event applied to a time slot.
type Action string

const (
	ActionStart        Action = "start"
	ActionPause        Action = "pause"
	ActionStop         Action = "stop"
	ActionQC           Action = "qc"
	ActionMissingParts Action = "missing_parts"
)

// transitions lists the legal status changes per action. QC and missing
// parts do not change the status and are checked separately.
var transitions = map[models.SlotStatus]map[Action]models.SlotStatus{
	models.SlotStatusPlanned: {
		ActionStart: models.SlotStatusRunning,
	},
	models.SlotStatusRunning: {
		ActionPause: models.SlotStatusPaused,
		ActionStop:  models.SlotStatusDone,
	},
	models.SlotStatusPaused: {
		ActionStart: models.SlotStatusRunning,
		ActionStop:  models.SlotStatusDone,
	},
}

// Next returns the status reached by applying action in status from.
func Next(from models.SlotStatus, action Action) (models.SlotStatus, bool) {
	to, ok := transitions[from][action]
	return to, ok
}

// Open reports whether a slot still has work left.
func Open(status models.SlotStatus) bool {
	return status == models.SlotStatusPlanned ||
		status == models.SlotStatusRunning ||
		status == models.SlotStatusPaused
}

// Elapsed returns the seconds worked on slot up to now. A running slot adds
// the time since its last start to the total banked at pause.
func Elapsed(slot *models.TimeSlot, now time.Time) int64 {
	total := slot.AccumulatedSec
	if slot.Status == models.SlotStatusRunning && slot.StartedAt != nil {
		if d := now.Sub(*slot.StartedAt); d > 0 {
			total += int64(d / time.Second)
		}
	}
	return total
}

// DurationMinutes rounds worked seconds to whole minutes.
func DurationMinutes(sec int64) int {
	return int(math.Round(float64(sec) / 60))
}
