package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/learnmatch/progression/internal/domain/progress"
	"github.com/learnmatch/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD LEARNING EVENT COMMAND
// Video progress, article and path completion, daily login and pathway opens
// all enter here and are turned into the matching domain event.
// ══════════════════════════════════════════════════════════════════════════════

// RecordLearningEventCommand contains one learning event.
type RecordLearningEventCommand struct {
	UserID string
	Kind   progress.EventKind

	// ResourceID is the video, article or pathway id. For path_complete it
	// carries the path id. Optional for article_complete and path_complete.
	ResourceID string

	// Percent is the watched share of a video, 0..100.
	Percent float64

	// EventID is the optional client idempotency key.
	EventID string
}

// Event converts the command into its domain event.
func (c RecordLearningEventCommand) Event() (progress.LearningEvent, error) {
	resource := strings.TrimSpace(c.ResourceID)

	switch c.Kind {
	case progress.KindVideoProgress:
		return progress.VideoProgress{ResourceID: resource, Percent: c.Percent}, nil
	case progress.KindArticleComplete:
		return progress.ArticleComplete{ResourceID: resource}, nil
	case progress.KindPathComplete:
		return progress.PathComplete{PathID: resource}, nil
	case progress.KindDailyLogin:
		return progress.DailyLogin{}, nil
	case progress.KindPathwayOpened:
		return progress.PathwayOpened{ResourceID: resource}, nil
	default:
		return nil, shared.ErrUnknownEvent
	}
}

// Validate validates the command.
func (c RecordLearningEventCommand) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return shared.ErrEmptyUserID
	}
	ev, err := c.Event()
	if err != nil {
		return err
	}
	return ev.Validate()
}

// RecordLearningEventHandler handles the RecordLearningEventCommand.
type RecordLearningEventHandler struct {
	updater *Updater
}

// NewRecordLearningEventHandler creates a new RecordLearningEventHandler.
func NewRecordLearningEventHandler(updater *Updater) *RecordLearningEventHandler {
	return &RecordLearningEventHandler{updater: updater}
}

// Handle applies the event.
func (h *RecordLearningEventHandler) Handle(ctx context.Context, cmd RecordLearningEventCommand) (*ProgressChange, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("record_learning_event: validation failed: %w", err)
	}

	ev, _ := cmd.Event()
	result, err := h.updater.Update(ctx, cmd.UserID, cmd.EventID, ev)
	if err != nil {
		return nil, fmt.Errorf("record_learning_event: %w", err)
	}

	return newProgressChange(cmd.Kind, result), nil
}
