package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event reports.
type Stage string

// Supported progress stages.
const (
	StageScrapeStart  Stage = "SCRAPE_START"
	StageAssetDone    Stage = "ASSET_DONE"
	StageCategoryDone Stage = "CATEGORY_DONE"
	StageScrapeDone   Stage = "SCRAPE_DONE"
	StageScrapeError  Stage = "SCRAPE_ERROR"
)

// Event is one progress notification.
type Event struct {
	// ScrapeID is the 16-byte form of the scrape's UUID.
	ScrapeID [16]byte
	// TS is the UTC time the emitter recorded the event.
	TS time.Time
	Stage Stage
	// Category scopes asset and category events.
	Category string
	// Count is the running number of completed elements in Category for
	// ASSET_DONE, and the category total for CATEGORY_DONE.
	Count int
	URL   string
	Bytes int64
	Dur   time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.ScrapeID == [16]byte{} {
		return errors.New("scrape id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageScrapeStart, StageScrapeDone, StageScrapeError:
	case StageAssetDone:
		if e.Category == "" {
			return errors.New("asset done requires category")
		}
		if e.Count < 1 {
			return errors.New("asset done requires a positive count")
		}
	case StageCategoryDone:
		if e.Category == "" {
			return errors.New("category done requires category")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ScrapeUUID converts the binary id back to a uuid.UUID.
func (e Event) ScrapeUUID() uuid.UUID {
	return uuid.UUID(e.ScrapeID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
