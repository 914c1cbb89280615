package listing

import (
	"context"
	"time"
)

func (s *Service) SituationsDashboardAt(ctx context.Context, userID uint, now time.Time) (*SituationsDashboard, error) {
	return s.situationsDashboard(ctx, userID, now)
}
