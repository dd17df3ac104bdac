package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/d60-Lab/connectnow/internal/model"
	"github.com/d60-Lab/connectnow/internal/service"
	"github.com/d60-Lab/connectnow/pkg/logger"
)

var (
	seedUsers    int
	seedPassword string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert demo users, follows, posts and messages",
	Long: `写入演示数据: 用户 demo0..demoN-1，每人关注后一位，各发一条动态，
demo0 与 demo1 之间有一段私信。已存在的用户会被跳过。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSeed(cmd.Context())
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedUsers, "users", 5, "number of demo users")
	seedCmd.Flags().StringVar(&seedPassword, "password", "password123", "password for every demo user")
}

func runSeed(ctx context.Context) error {
	if seedUsers < 2 {
		return errors.New("--users must be at least 2")
	}
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	stopLive := a.live.Start(1)
	defer func() { _ = stopLive(context.Background()) }()

	s := a.services
	users := make([]*model.User, 0, seedUsers)
	for i := 0; i < seedUsers; i++ {
		handle := fmt.Sprintf("demo%d", i)
		u, _, err := s.Session.Signup(ctx, service.SignupInput{
			Name:     fmt.Sprintf("Demo %d", i),
			Username: handle,
			Email:    handle + "@example.com",
			Password: seedPassword,
			Bio:      "demo account",
		})
		if errors.Is(err, service.ErrDuplicateUser) {
			u, _, err = s.Session.Login(ctx, handle+"@example.com", seedPassword)
		}
		if err != nil {
			return fmt.Errorf("seed user %s: %w", handle, err)
		}
		users = append(users, u)
	}

	for i, u := range users {
		next := users[(i+1)%len(users)]
		if err := s.Relationship.Follow(ctx, u.ID, next.ID); err != nil {
			return err
		}
		if _, err := s.Feed.CreatePost(ctx, u.ID, service.CreatePostInput{
			Content: fmt.Sprintf("hello from %s at %s", u.Username, time.Now().UTC().Format(time.RFC3339)),
		}); err != nil {
			return err
		}
	}

	conv, err := s.Messaging.OpenOrCreate(ctx, users[0].ID, users[1].ID)
	if err != nil {
		return err
	}
	if _, err := s.Messaging.SendMessage(ctx, conv.ID, users[0].ID, "hi there"); err != nil {
		return err
	}

	n, err := a.worker.ProcessOnce(ctx)
	if err != nil {
		return err
	}
	logger.Info("seed done", zap.Int("users", len(users)), zap.Int("notifications", n))
	return nil
}
