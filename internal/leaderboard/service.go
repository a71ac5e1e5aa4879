// Package leaderboard keeps each game's best score per player in a Redis sorted set.
package leaderboard

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/arcade-kiosk/server/internal/apperr"
	rediskeys "github.com/arcade-kiosk/server/pkg/redis"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

type Config struct {
	Redis  redis.UniversalClient
	Prefix string
}

// Score is one player's result to record.
type Score struct {
	PlayerID int64
	Score    int
}

// Entry is one leaderboard row.
type Entry struct {
	Rank     int   `json:"rank"`
	PlayerID int64 `json:"player_id"`
	Score    int   `json:"score"`
}

type Service struct {
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	return &Service{redis: c.Redis, prefix: c.Prefix}
}

// Record keeps the higher of each player's stored and new score. Recording the
// same session twice changes nothing.
func (s *Service) Record(ctx context.Context, gameID string, scores []Score) error {
	if len(scores) == 0 {
		return nil
	}
	members := make([]redis.Z, 0, len(scores))
	for _, sc := range scores {
		members = append(members, redis.Z{
			Score:  float64(sc.Score),
			Member: strconv.FormatInt(sc.PlayerID, 10),
		})
	}
	if err := s.redis.ZAddGT(ctx, s.key(gameID), members...).Err(); err != nil {
		return fmt.Errorf("update leaderboard: game=%s: %w", gameID, err)
	}
	return nil
}

// Top returns the best players of a game, highest score first. A game with no
// recorded sessions has an empty leaderboard.
func (s *Service) Top(ctx context.Context, gameID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		return nil, apperr.InvalidArgument("limit must be at most %d", MaxLimit)
	}

	res, err := s.redis.ZRevRangeWithScores(ctx, s.key(gameID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: game=%s: %w", gameID, err)
	}

	entries := make([]Entry, 0, len(res))
	for i, z := range res {
		member, _ := z.Member.(string)
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("leaderboard member %q: %w", member, err)
		}
		entries = append(entries, Entry{Rank: i + 1, PlayerID: id, Score: int(z.Score)})
	}
	return entries, nil
}

func (s *Service) key(gameID string) string {
	return rediskeys.Key(s.prefix, "game", gameID, "leaderboard")
}
