package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/learnmatch/progression/internal/domain/progress"
	"github.com/learnmatch/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD XP COMMAND
// Direct experience award, used by admin tools and other services.
// ══════════════════════════════════════════════════════════════════════════════

// AwardXPCommand contains the data to award experience.
type AwardXPCommand struct {
	UserID string

	// Amount must not be negative. Zero is accepted and changes nothing.
	Amount int

	// Reason defaults to "Manual award".
	Reason string

	// EventID is the optional client idempotency key.
	EventID string
}

// Validate validates the command.
func (c AwardXPCommand) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return shared.ErrEmptyUserID
	}
	if c.Amount < 0 {
		return shared.ErrNegativeXP
	}
	return nil
}

// AwardXPHandler handles the AwardXPCommand.
type AwardXPHandler struct {
	updater *Updater
}

// NewAwardXPHandler creates a new AwardXPHandler.
func NewAwardXPHandler(updater *Updater) *AwardXPHandler {
	return &AwardXPHandler{updater: updater}
}

// Handle executes the award.
func (h *AwardXPHandler) Handle(ctx context.Context, cmd AwardXPCommand) (*ProgressChange, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("award_xp: validation failed: %w", err)
	}

	ev := progress.XPAward{Amount: cmd.Amount, Reason: strings.TrimSpace(cmd.Reason)}
	result, err := h.updater.Update(ctx, cmd.UserID, cmd.EventID, ev)
	if err != nil {
		return nil, fmt.Errorf("award_xp: %w", err)
	}

	return newProgressChange(ev.Kind(), result), nil
}
