package remote

import (
	"context"
	"time"

	"tutorchat/internal/models"
	"tutorchat/internal/widget/chatmodel"
)

// DisplayTimeFormat is how message timestamps are shown in the widget.
const DisplayTimeFormat = "Jan 2, 3:04 PM"

// HistoryFetcher is the one-shot history collaborator.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, sessionID string) ([]models.HistoryRecord, error)
}

// SyncHistory reconciles the server-held transcript into the active chat:
// the fetched records replace the local history wholesale, so repeated syncs
// never duplicate messages. Callers treat any error as best-effort and keep
// the locally cached history.
func SyncHistory(ctx context.Context, fetcher HistoryFetcher, m *chatmodel.Model, sessionID string) error {
	records, err := fetcher.FetchHistory(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	activeID := m.ActiveID()
	if activeID == "" {
		return nil
	}
	m.ReplaceHistory(activeID, NormalizeHistory(records))
	return nil
}

// NormalizeHistory converts wire records to model messages: the sender
// collapses to the two-value enum and the timestamp is reformatted for
// display. Records with no text are dropped.
func NormalizeHistory(records []models.HistoryRecord) []chatmodel.Message {
	out := make([]chatmodel.Message, 0, len(records))
	for _, rec := range records {
		if rec.Text == "" {
			continue
		}
		sender := chatmodel.SenderAssistant
		if rec.Sender == string(models.SenderUser) {
			sender = chatmodel.SenderUser
		}
		out = append(out, chatmodel.Message{
			Sender:    sender,
			Text:      rec.Text,
			Timestamp: formatTimestamp(rec.Timestamp),
		})
	}
	return out
}

func formatTimestamp(iso string) string {
	t, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return iso
	}
	return t.Local().Format(DisplayTimeFormat)
}
