package main

import (
	"context"
	logg "log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/7475-TrungHau/Realtime-QA-Poll/internal/config"
	"github.com/7475-TrungHau/Realtime-QA-Poll/internal/gateway"
	"github.com/7475-TrungHau/Realtime-QA-Poll/internal/identity"
	"github.com/7475-TrungHau/Realtime-QA-Poll/internal/models"
	"github.com/7475-TrungHau/Realtime-QA-Poll/internal/session"
	"github.com/7475-TrungHau/Realtime-QA-Poll/pkg/logger"
)

func main() {
	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	cfg, err := config.New()
	if err != nil {
		logg.Fatalf("failed to load config: %s", err)
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		logg.Fatalf("failed to initalize logger: %s", err)
	}
	if cfg.EventID == "" {
		logg.Fatal("EVENT_ID is required")
	}

	guests, err := identity.LoadGuest(cfg.GuestStore)
	if err != nil {
		logg.Fatalf("failed to load guest identity: %s", err)
	}
	if cfg.GuestName != "" {
		if _, err := guests.SetName(cfg.GuestName); err != nil {
			logg.Fatalf("failed to set guest name: %s", err)
		}
	}
	actor, _ := guests.CurrentActor()
	log.Info("viewer identity",
		zap.String("actor_id", actor.ID),
		zap.String("name", actor.Name),
		zap.String("kind", string(actor.Kind)))

	gw := gateway.NewClient(cfg.GatewayURL, cfg.GatewayWsURL, log)
	sess := session.New(gw, actor, log)
	if err := sess.Start(ctx, cfg.EventID); err != nil {
		logg.Fatalf("failed to start session: %s", err)
	}
	defer sess.Close()

	subID, changes := sess.Subscribe()
	defer sess.Unsubscribe(subID)

	go func() {
		for out := range sess.Outcomes() {
			if out.Err != nil {
				log.Warn("intent rejected",
					zap.String("kind", string(out.Kind)),
					zap.Error(out.Err))
				continue
			}
			log.Info("intent confirmed",
				zap.String("kind", string(out.Kind)),
				zap.String("item_id", out.ItemID))
		}
	}()

	// kick the tires: ask a question and upvote the current leader
	if err := sess.IssueIntent(models.CreateQuestionIntent{Content: "What time does the next talk start?"}); err != nil {
		log.Warn("create question rejected", zap.Error(err))
	}
	if snap := sess.Snapshot(); snap != nil {
		if ordered := snap.OrderedQuestions(); len(ordered) > 0 {
			if err := sess.IssueIntent(models.ToggleUpvoteIntent{QuestionID: ordered[0].ID}); err != nil {
				log.Warn("upvote rejected", zap.Error(err))
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return
		case <-changes:
			printSnapshot(log, sess.Snapshot())
		}
	}
}

func printSnapshot(log *zap.Logger, ev *models.Event) {
	if ev == nil {
		return
	}
	for i, q := range ev.OrderedQuestions() {
		log.Info("question",
			zap.Int("rank", i+1),
			zap.String("id", q.ID),
			zap.String("content", q.Content),
			zap.Int("upvotes", q.Upvotes),
			zap.Bool("upvoted_by_me", q.UpvotedByMe))
	}
	for _, p := range ev.OrderedPolls() {
		log.Info("poll",
			zap.String("id", p.ID),
			zap.String("question", p.QuestionText),
			zap.Int("total_votes", p.TotalVotes),
			zap.String("my_vote", p.MyVote))
	}
}
