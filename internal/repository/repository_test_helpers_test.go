package repository

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/calendarhub/intake/internal/domain"
)

func newRepositoryDBForTest(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Submission{}); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

func newRedisClientForTest(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return m, client
}

func newPendingSubmission(site string) *domain.Submission {
	return &domain.Submission{
		ID:       uuid.NewString(),
		Status:   domain.SubmissionPending,
		Type:     domain.SubmissionEvent,
		SiteSlug: site,
		Email:    "organizer@example.org",
		Payload: domain.Payload{
			SubmittedBy: "Organizer",
			Events: []domain.Event{{
				Title: "Launch Party",
				Date:  "2024-06-01",
				Time:  "18:00",
				URL:   "https://example.org/launch",
			}},
		},
		CreatedAt: time.Now().UTC(),
	}
}

// repositoryFactories runs the same contract against every backend.
func repositoryFactories(t *testing.T) map[string]func(t *testing.T) SubmissionRepository {
	t.Helper()
	return map[string]func(t *testing.T) SubmissionRepository{
		"gorm": func(t *testing.T) SubmissionRepository {
			return NewGormSubmissionRepository(newRepositoryDBForTest(t))
		},
		"redis": func(t *testing.T) SubmissionRepository {
			_, client := newRedisClientForTest(t)
			return NewRedisSubmissionRepository(client, "test", 0)
		},
	}
}
