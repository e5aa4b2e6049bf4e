package service

import (
	"context"
	"fmt"

	"github.com/qiniu/fedmon/internal/database"
)

// HealthService answers the readiness probe. Liveness needs no service; a
// responding process is alive.
type HealthService struct {
	db *database.Database
}

// NewHealthService creates the health service.
func NewHealthService(db *database.Database) *HealthService {
	return &HealthService{db: db}
}

// Ready reports whether the adapter can serve rebuilds. The redis snapshot
// is best-effort, so only the database gates readiness.
func (s *HealthService) Ready(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not configured")
	}
	return s.db.Ping(ctx)
}
