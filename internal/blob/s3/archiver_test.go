package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/updownbet/updown/internal/domain"
)

type fakeWriter struct {
	puts map[string][]byte
}

func (w *fakeWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.puts[path] = buf
	return nil
}

func (w *fakeWriter) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	return w.Put(ctx, path, data, "")
}

type fakeRoundStore struct {
	closed []domain.Round
}

func (s *fakeRoundStore) Upsert(ctx context.Context, r domain.Round) error { return nil }
func (s *fakeRoundStore) Get(ctx context.Context, market string, id int64) (domain.Round, error) {
	return domain.Round{}, domain.ErrNotFound
}
func (s *fakeRoundStore) ListByMarket(ctx context.Context, market string, opts domain.ListOpts) ([]domain.Round, error) {
	return nil, nil
}
func (s *fakeRoundStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Round, error) {
	var out []domain.Round
	for _, r := range s.closed {
		if r.CloseTime.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}
func (s *fakeRoundStore) CurrentRound(ctx context.Context, market string) (int64, error) {
	return 0, domain.ErrNotFound
}
func (s *fakeRoundStore) SetCurrentRound(ctx context.Context, market string, id int64) error {
	return nil
}

type fakeBetStore struct {
	byRound map[int64][]domain.Bet
}

func (s *fakeBetStore) Insert(ctx context.Context, b domain.Bet) error { return nil }
func (s *fakeBetStore) SetPaid(ctx context.Context, market string, roundID int64, bettor string, paid bool) error {
	return nil
}
func (s *fakeBetStore) Get(ctx context.Context, market string, roundID int64, bettor string) (domain.Bet, error) {
	return domain.Bet{}, domain.ErrNotFound
}
func (s *fakeBetStore) ListByRound(ctx context.Context, market string, roundID int64) ([]domain.Bet, error) {
	return s.byRound[roundID], nil
}
func (s *fakeBetStore) ListByBettor(ctx context.Context, bettor string, opts domain.ListOpts) ([]domain.Bet, error) {
	return nil, nil
}

func TestArchiveRounds(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	rounds := &fakeRoundStore{closed: []domain.Round{
		{Market: "BTC-USD", ID: 1, Phase: domain.PhaseClosed, CloseTime: base.Add(10 * time.Minute)},
		{Market: "BTC-USD", ID: 2, Phase: domain.PhaseClosed, CloseTime: base.Add(20 * time.Minute)},
		{Market: "BTC-USD", ID: 3, Phase: domain.PhaseClosed, CloseTime: base.Add(48 * time.Hour)},
	}}
	bets := &fakeBetStore{byRound: map[int64][]domain.Bet{
		1: {{Market: "BTC-USD", RoundID: 1, Bettor: "alice", Side: domain.SideBull, Amount: 2000}},
	}}
	writer := &fakeWriter{puts: make(map[string][]byte)}

	arch := NewRoundArchiver(writer, rounds, bets, nil)

	n, err := arch.ArchiveRounds(context.Background(), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n, "round 3 closed after the cutoff and must stay")

	data, ok := writer.puts["archive/rounds/2025-06.jsonl"]
	require.True(t, ok, "expected upload under the cutoff's year-month key")

	// Two JSONL lines, first carries alice's bet.
	var records []archivedRound
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var rec archivedRound
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, sc.Err())
	require.Len(t, records, 2)
	assert.Equal(t, int64(1), records[0].Round.ID)
	require.Len(t, records[0].Bets, 1)
	assert.Equal(t, "alice", records[0].Bets[0].Bettor)
	assert.Empty(t, records[1].Bets)
}

func TestArchiveRounds_NothingToDo(t *testing.T) {
	writer := &fakeWriter{puts: make(map[string][]byte)}
	arch := NewRoundArchiver(writer, &fakeRoundStore{}, &fakeBetStore{}, nil)

	n, err := arch.ArchiveRounds(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, writer.puts, "no upload when nothing is due")
}
