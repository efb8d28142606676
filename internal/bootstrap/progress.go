package bootstrap

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/callrank/callrank/internal/io"
)

// BootstrapStatus is the resumable progress checkpoint for a bulk-backfill
// run. It always reflects a state before the next unprocessed message.
type BootstrapStatus struct {
	ChannelName            string    `json:"channel_name"`
	TotalMessages          int       `json:"total_messages"`
	ProcessedMessages      int       `json:"processed_messages"`
	LastProcessedMessageID string    `json:"last_processed_message_id"`
	LastProcessedTimestamp time.Time `json:"last_processed_timestamp"`
	StartedAt              time.Time `json:"started_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// ProgressStore persists BootstrapStatus between interrupted runs.
type ProgressStore struct {
	path string
}

// NewProgressStore creates a progress store writing to path.
func NewProgressStore(path string) *ProgressStore {
	return &ProgressStore{path: path}
}

// Load returns the persisted progress, or nil when no run is in flight.
func (p *ProgressStore) Load() (*BootstrapStatus, error) {
	var status BootstrapStatus
	ok, err := io.ReadJSON(p.path, &status)
	if err != nil {
		log.Warn().Err(err).Str("path", p.path).Msg("progress file corrupt, restarting backfill from scratch")
		return nil, nil
	}
	if !ok {
		return nil, nil
	}
	return &status, nil
}

// Save checkpoints the progress atomically.
func (p *ProgressStore) Save(status *BootstrapStatus) error {
	status.UpdatedAt = time.Now().UTC()
	return io.WriteJSONAtomic(p.path, status)
}

// Clear removes the progress file after a successful run.
func (p *ProgressStore) Clear() error {
	return io.RemoveIfExists(p.path)
}
