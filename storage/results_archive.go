package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dosada05/duel-tournament/models"
)

type archivedResults struct {
	Tournament *models.Tournament `json:"tournament"`
	Standings  []models.Standing  `json:"standings"`
	ArchivedAt time.Time          `json:"archived_at"`
}

// ResultsArchiver uploads final standings as JSON. It implements services.ResultsArchiver.
type ResultsArchiver struct {
	uploader FileUploader
	now      func() time.Time
}

func NewResultsArchiver(uploader FileUploader) *ResultsArchiver {
	return &ResultsArchiver{uploader: uploader, now: time.Now}
}

func ResultsKey(t *models.Tournament) string {
	return fmt.Sprintf("tournaments/%s/%d/standings.json", t.GuildID, t.ID)
}

func (a *ResultsArchiver) ArchiveStandings(ctx context.Context, t *models.Tournament, standings []models.Standing) (string, error) {
	body, err := json.Marshal(archivedResults{Tournament: t, Standings: standings, ArchivedAt: a.now().UTC()})
	if err != nil {
		return "", fmt.Errorf("failed to encode results of tournament %d: %w", t.ID, err)
	}
	result, err := a.uploader.Upload(ctx, ResultsKey(t), "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	return result.Location, nil
}
