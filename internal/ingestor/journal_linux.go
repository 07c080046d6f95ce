//go:build linux && cgo

package ingestor

import (
	"context"
	"fmt"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/outlit-agent/internal/config"
	"github.com/GabrielNunesIT/outlit-agent/internal/model"
	"github.com/coreos/go-systemd/v22/sdjournal"
)

// journalWait bounds each journal wait so cancellation is noticed.
const journalWait = time.Second

// JournalIngestor reads JSON events from the MESSAGE field of systemd journal entries.
type JournalIngestor struct {
	cfg    config.JournalIngestorConfig
	name   string
	logger logger.ILogger
}

// NewJournalIngestor creates a new systemd journal ingestor.
func NewJournalIngestor(cfg config.JournalIngestorConfig, log logger.ILogger) *JournalIngestor {
	return &JournalIngestor{
		cfg:    cfg,
		name:   "journal",
		logger: log.SubLogger("JournalIngestor"),
	}
}

// Name returns the ingestor identifier.
func (j *JournalIngestor) Name() string {
	return j.name
}

// Start follows the journal from its current tail.
func (j *JournalIngestor) Start(ctx context.Context, out chan<- *model.Envelope) error {
	defer close(out)

	journal, err := sdjournal.NewJournal()
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer journal.Close()

	for i, unit := range j.cfg.Units {
		if i > 0 {
			if err := journal.AddDisjunction(); err != nil {
				return fmt.Errorf("adding unit disjunction: %w", err)
			}
		}
		if err := journal.AddMatch(sdjournal.SD_JOURNAL_FIELD_SYSTEMD_UNIT + "=" + unit); err != nil {
			return fmt.Errorf("adding unit filter %q: %w", unit, err)
		}
	}

	if err := journal.SeekTail(); err != nil {
		return fmt.Errorf("seeking to journal tail: %w", err)
	}
	// Step back onto the last entry so the next Next() yields the first new one.
	if _, err := journal.Previous(); err != nil {
		return fmt.Errorf("moving to previous entry: %w", err)
	}

	j.logger.Infof("following journal: units=%v", j.cfg.Units)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		for {
			n, err := journal.Next()
			if err != nil {
				return fmt.Errorf("reading next entry: %w", err)
			}
			if n == 0 {
				break
			}

			env, err := j.envelope(journal)
			if err != nil {
				j.logger.Warningf("skipping journal entry: %v", err)
				continue
			}
			if err := send(ctx, out, env); err != nil {
				return err
			}
		}

		journal.Wait(journalWait)
	}
}

var journalMetadata = map[string]string{
	sdjournal.SD_JOURNAL_FIELD_SYSTEMD_UNIT:      "unit",
	sdjournal.SD_JOURNAL_FIELD_PID:               "pid",
	sdjournal.SD_JOURNAL_FIELD_COMM:              "command",
	sdjournal.SD_JOURNAL_FIELD_HOSTNAME:          "hostname",
	sdjournal.SD_JOURNAL_FIELD_SYSLOG_IDENTIFIER: "identifier",
}

func (j *JournalIngestor) envelope(journal *sdjournal.Journal) (*model.Envelope, error) {
	entry, err := journal.GetEntry()
	if err != nil {
		return nil, err
	}

	env := model.NewEnvelope(j.name, []byte(entry.Fields[sdjournal.SD_JOURNAL_FIELD_MESSAGE]))
	for field, key := range journalMetadata {
		if val, ok := entry.Fields[field]; ok {
			env.Metadata[key] = val
		}
	}
	// RealtimeTimestamp is in microseconds
	env.Timestamp = time.UnixMicro(int64(entry.RealtimeTimestamp))
	return env, nil
}
