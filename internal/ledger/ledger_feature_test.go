package ledger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/cucumber/godog"

	"github.com/lucaszengool/puppydiary-sub001/internal/store"
)

func TestLedgerFeatures(t *testing.T) {
	suite := godog.TestSuite{
		Name:                "bones-ledger",
		ScenarioInitializer: initializeLedgerScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{filepath.Join("features", "bones.feature")},
			Strict:   true,
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatalf("non-zero godog status")
	}
}

type ledgerState struct {
	clock  *fakeClock
	ledger *Ledger
	userID string
	last   Result
}

func initializeLedgerScenario(ctx *godog.ScenarioContext) {
	s := &ledgerState{}
	ctx.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		s.clock = newFakeClock()
		s.ledger = New(store.NewMemoryStore(), DefaultConfig(), WithClock(s.clock.Now))
		s.userID = ""
		s.last = Result{}
		return ctx, nil
	})

	ctx.Step(`^a new user "([^"]+)"$`, func(id string) error {
		s.userID = id
		return nil
	})
	ctx.Step(`^the user consumes (\d+) bones$`, func(n int) error {
		res, err := s.ledger.Consume(context.Background(), s.userID, int64(n))
		if err != nil && !errors.Is(err, ErrInsufficientBalance) {
			return err
		}
		s.last = res
		return nil
	})
	ctx.Step(`^the user claims the share reward$`, func() error {
		res, err := s.ledger.AwardShareReward(context.Background(), s.userID)
		if err != nil {
			return err
		}
		s.last = res
		return nil
	})
	ctx.Step(`^(\d+) hours pass$`, func(h int) error {
		s.clock.Advance(time.Duration(h) * time.Hour)
		return nil
	})
	ctx.Step(`^the operation succeeds$`, func() error {
		if !s.last.Success {
			return fmt.Errorf("expected success, got %+v", s.last)
		}
		return nil
	})
	ctx.Step(`^the operation fails with "([^"]+)"$`, func(code string) error {
		if s.last.Success || s.last.Code != code {
			return fmt.Errorf("expected failure %s, got %+v", code, s.last)
		}
		return nil
	})
	ctx.Step(`^the balance is (\d+)$`, func(n int) error {
		acct, err := s.ledger.GetBalance(context.Background(), s.userID)
		if err != nil {
			return err
		}
		if acct.Bones != int64(n) {
			return fmt.Errorf("expected %d bones, got %d", n, acct.Bones)
		}
		return nil
	})
}
