package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/breakroom-labs/sentinel/internal/domain"
)

func seedChallenge(t *testing.T, repo ChallengeRepository, mutate func(*domain.Challenge)) *domain.Challenge {
	t.Helper()
	ch := &domain.Challenge{
		Title:      "SQLi 101",
		Category:   "web",
		Difficulty: "easy",
		Points:     100,
		FlagHash:   "deadbeef",
		Active:     true,
	}
	if mutate != nil {
		mutate(ch)
	}
	if err := repo.Create(context.Background(), ch); err != nil {
		t.Fatalf("create challenge: %v", err)
	}
	return ch
}

func TestRecordAttemptAwardsPointsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewChallengeRepository(newTestDB(t))
	ch := seedChallenge(t, repo, nil)

	first := &domain.ChallengeAttempt{ChallengeID: ch.ID, UserID: 7, Correct: true, IP: "1.2.3.4"}
	outcome, err := repo.RecordAttempt(ctx, ch, first)
	if err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	if !outcome.Awarded || outcome.Points != 100 {
		t.Fatalf("expected first correct attempt to score, got %+v", outcome)
	}

	second := &domain.ChallengeAttempt{ChallengeID: ch.ID, UserID: 7, Correct: true, IP: "1.2.3.4"}
	outcome, err = repo.RecordAttempt(ctx, ch, second)
	if err != nil {
		t.Fatalf("resubmission: %v", err)
	}
	if outcome.Awarded || outcome.Points != 0 {
		t.Fatalf("expected resubmission to award nothing, got %+v", outcome)
	}

	stats, err := repo.UserStats(ctx, 7)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalPoints != 100 || stats.Solved != 1 || stats.Attempts != 2 || stats.Correct != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRecordAttemptConcurrentCorrectSubmissions(t *testing.T) {
	ctx := context.Background()
	repo := NewChallengeRepository(newTestDB(t))
	ch := seedChallenge(t, repo, nil)

	const workers = 4
	var wg sync.WaitGroup
	awards := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			attempt := &domain.ChallengeAttempt{ChallengeID: ch.ID, UserID: 7, Correct: true}
			outcome, err := repo.RecordAttempt(ctx, ch, attempt)
			if err != nil {
				return
			}
			awards <- outcome.Awarded
		}()
	}
	wg.Wait()
	close(awards)

	awarded := 0
	for a := range awards {
		if a {
			awarded++
		}
	}
	if awarded != 1 {
		t.Fatalf("expected exactly one scoring attempt, got %d", awarded)
	}
}

func TestRecordAttemptEnforcesCeiling(t *testing.T) {
	ctx := context.Background()
	repo := NewChallengeRepository(newTestDB(t))
	ch := seedChallenge(t, repo, func(c *domain.Challenge) { c.MaxAttempts = 2 })

	for i := 0; i < 2; i++ {
		attempt := &domain.ChallengeAttempt{ChallengeID: ch.ID, UserID: 3, Correct: false}
		if _, err := repo.RecordAttempt(ctx, ch, attempt); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	attempt := &domain.ChallengeAttempt{ChallengeID: ch.ID, UserID: 3, Correct: true}
	if _, err := repo.RecordAttempt(ctx, ch, attempt); !errors.Is(err, ErrAttemptLimitReached) {
		t.Fatalf("expected ErrAttemptLimitReached, got %v", err)
	}

	// a different user is unaffected
	other := &domain.ChallengeAttempt{ChallengeID: ch.ID, UserID: 4, Correct: false}
	if _, err := repo.RecordAttempt(ctx, ch, other); err != nil {
		t.Fatalf("other user attempt: %v", err)
	}
}

func TestRecordAttemptEnforcesTimeLimit(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewChallengeRepository(db)
	ch := seedChallenge(t, repo, func(c *domain.Challenge) { c.TimeLimitSecs = 60 })

	first := &domain.ChallengeAttempt{ChallengeID: ch.ID, UserID: 5, Correct: false}
	if _, err := repo.RecordAttempt(ctx, ch, first); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	// age the first attempt past the window
	stale := time.Now().Add(-2 * time.Minute)
	if err := db.Model(&domain.ChallengeAttempt{}).Where("id = ?", first.ID).Update("created_at", stale).Error; err != nil {
		t.Fatalf("age attempt: %v", err)
	}

	late := &domain.ChallengeAttempt{ChallengeID: ch.ID, UserID: 5, Correct: true}
	if _, err := repo.RecordAttempt(ctx, ch, late); !errors.Is(err, ErrSubmissionWindowOver) {
		t.Fatalf("expected ErrSubmissionWindowOver, got %v", err)
	}
}

func TestLeaderboardOrderingAndTieBreak(t *testing.T) {
	ctx := context.Background()
	repo := NewChallengeRepository(newTestDB(t))
	easy := seedChallenge(t, repo, func(c *domain.Challenge) { c.Points = 50 })
	hard := seedChallenge(t, repo, func(c *domain.Challenge) { c.Title = "Pwn"; c.Points = 150 })

	// user 1 solves both; users 2 and 3 tie on the easy one, user 2 first
	for _, sub := range []struct {
		user uint
		ch   *domain.Challenge
	}{
		{1, easy}, {1, hard}, {2, easy}, {3, easy},
	} {
		attempt := &domain.ChallengeAttempt{ChallengeID: sub.ch.ID, UserID: sub.user, Correct: true}
		if _, err := repo.RecordAttempt(ctx, sub.ch, attempt); err != nil {
			t.Fatalf("attempt user=%d: %v", sub.user, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	entries, err := repo.Leaderboard(ctx, 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].UserID != 1 || entries[0].TotalPoints != 200 {
		t.Fatalf("unexpected leader: %+v", entries[0])
	}
	if entries[1].UserID != 2 || entries[2].UserID != 3 {
		t.Fatalf("expected earliest achiever to win the tie: %+v", entries[1:])
	}
}

func TestSolvedChallengeIDs(t *testing.T) {
	ctx := context.Background()
	repo := NewChallengeRepository(newTestDB(t))
	solvedCh := seedChallenge(t, repo, nil)
	seedChallenge(t, repo, func(c *domain.Challenge) { c.Title = "Unsolved" })

	attempt := &domain.ChallengeAttempt{ChallengeID: solvedCh.ID, UserID: 9, Correct: true}
	if _, err := repo.RecordAttempt(ctx, solvedCh, attempt); err != nil {
		t.Fatalf("attempt: %v", err)
	}

	solved, err := repo.SolvedChallengeIDs(ctx, 9)
	if err != nil {
		t.Fatalf("solved ids: %v", err)
	}
	if len(solved) != 1 || !solved[solvedCh.ID] {
		t.Fatalf("unexpected solved set: %+v", solved)
	}
}
