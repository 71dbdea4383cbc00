package usecases

import (
	"context"
	"log/slog"
	"time"

	"github.com/riverscan/riverscan/internal/core/domain"
	"github.com/riverscan/riverscan/internal/core/ports"
)

// publishStage sends a stage completion event when a publisher is configured.
// Notification failures never fail the stage.
func publishStage(ctx context.Context, events ports.EventPublisher, stage, output string, counts map[string]int) {
	if events == nil {
		return
	}
	ev := domain.StageEvent{
		Stage:      stage,
		Output:     output,
		Counts:     counts,
		FinishedAt: time.Now().UTC(),
	}
	if err := events.PublishStageCompleted(ctx, ev); err != nil {
		slog.Warn("stage notification failed", "stage", stage, "error", err)
	}
}
