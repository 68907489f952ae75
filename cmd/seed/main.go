package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/crypto/bcrypt"

	"sudooom.planverse/internal/config"
	"sudooom.planverse/internal/model"
	"sudooom.planverse/internal/repository"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "config file path")
	fixturePath := flag.String("fixture", "configs/seed.yaml", "seed fixture path")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(*configPath, *fixturePath, logger); err != nil {
		logger.Error("Seed failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, fixturePath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath, ".env")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fixture, err := loadFixture(fixturePath)
	if err != nil {
		return err
	}
	plan := buildPlan(fixture)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := repository.NewPool(ctx, cfg.Database.DSN(), 4)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	// 直接写库，不发布变更
	users := repository.NewUserRepository(db)
	friends := repository.NewFriendRepository(db)
	convs := repository.NewConversationRepository(db, nil)
	msgs := repository.NewMessageRepository(db, nil)
	posts := repository.NewPostRepository(db)
	promos := repository.NewPromotionRepository(db)

	hash, err := bcrypt.GenerateFromPassword([]byte(fixture.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	userIDs := make([]string, len(plan.Users))
	for i, a := range plan.Users {
		u := &model.User{Username: a.Username, DisplayName: a.DisplayName, Campus: a.Campus, PasswordHash: string(hash)}
		err := users.CreateUser(ctx, u)
		if errors.Is(err, repository.ErrDuplicate) {
			existing, gerr := users.GetUserByUsername(ctx, a.Username)
			if gerr != nil {
				return gerr
			}
			userIDs[i] = existing.ID
			continue
		}
		if err != nil {
			return fmt.Errorf("create user %s: %w", a.Username, err)
		}
		userIDs[i] = u.ID
	}
	logger.Info("Users ready", "count", len(userIDs))

	convIDs := make([]string, len(plan.Friendships))
	for i, pair := range plan.Friendships {
		a, b := userIDs[pair[0]], userIDs[pair[1]]
		if err := friends.CreateFriendship(ctx, a, b); err != nil {
			return fmt.Errorf("create friendship: %w", err)
		}
		id, err := convs.CreateConversation(ctx, a, b)
		if err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		convIDs[i] = id
	}
	logger.Info("Friendships ready", "count", len(convIDs))

	for _, pm := range plan.Messages {
		pair := plan.Friendships[pm.Friendship]
		sender, receiver := userIDs[pair[0]], userIDs[pair[1]]
		if !pm.FromFirst {
			sender, receiver = receiver, sender
		}
		if _, err := msgs.InsertMessage(ctx, &model.Message{
			ConversationID: convIDs[pm.Friendship],
			SenderID:       sender,
			ReceiverID:     receiver,
			Content:        pm.Content,
			Status:         model.StatusDelivered,
		}); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	logger.Info("Messages ready", "count", len(plan.Messages))

	postIDs := make([]string, len(plan.Posts))
	for i, pp := range plan.Posts {
		p := &model.Post{AuthorID: userIDs[pp.Author], Content: pp.Content}
		if err := posts.CreatePost(ctx, p); err != nil {
			return fmt.Errorf("create post: %w", err)
		}
		postIDs[i] = p.ID
	}
	logger.Info("Posts ready", "count", len(postIDs))

	now := time.Now()
	for _, idx := range plan.Promoted {
		if err := promos.CreatePromotion(ctx, &model.Promotion{
			PostID:      postIDs[idx],
			OwnerID:     userIDs[plan.Posts[idx].Author],
			BudgetCents: 5000,
			CPMCents:    1000,
			Status:      model.PromotionActive,
			StartsAt:    now,
			EndsAt:      now.Add(7 * 24 * time.Hour),
		}); err != nil {
			return fmt.Errorf("create promotion: %w", err)
		}
	}
	logger.Info("Seed finished", "promotions", len(plan.Promoted))
	return nil
}
