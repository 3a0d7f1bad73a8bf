package jobs

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Watch starts the handle and blocks until the job ends, logging progress
// along the way. A cancelled context cancels the remote job before
// returning.
func Watch(ctx context.Context, h *Handle, name string) error {
	if err := h.Start(ctx); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			cancelCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := h.Cancel(cancelCtx); err != nil {
				log.Printf("%s: couldn't cancel job: %v\n", name, err)
				h.Stop()
			}
			<-h.Done()
			return ctx.Err()
		case <-h.Done():
			snap := h.Snapshot()
			if snap.State == Failed {
				if snap.Code != nil {
					return fmt.Errorf("%s: job failed with code %d: %s", name, *snap.Code, snap.Message)
				}
				return fmt.Errorf("%s: job failed: %s", name, snap.Message)
			}
			log.Printf("%s: job %s\n", name, snap.State)
			return nil
		case <-t.C:
			snap := h.Snapshot()
			if snap.Progress != nil {
				log.Printf("%s: %s %.1f%% %s\n", name, snap.State, *snap.Progress*100, snap.Message)
			} else {
				log.Printf("%s: %s %s\n", name, snap.State, snap.Message)
			}
		}
	}
}
