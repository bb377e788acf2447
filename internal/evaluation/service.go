package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/market-radar/internal/logging"
	"github.com/JakeFAU/market-radar/internal/radar"
)

// Service creates evaluations on demand and exposes their history.
type Service struct {
	store     radar.EntityStore
	evaluator radar.Evaluator
	publisher radar.Publisher
	topic     string
	clock     radar.Clock
	logger    *zap.Logger
}

// NewService wires the evaluation service. publisher may be nil.
func NewService(
	store radar.EntityStore,
	evaluator radar.Evaluator,
	publisher radar.Publisher,
	topic string,
	clock radar.Clock,
	logger *zap.Logger,
) *Service {
	return &Service{
		store:     store,
		evaluator: evaluator,
		publisher: publisher,
		topic:     topic,
		clock:     clock,
		logger:    logging.OrNop(logger).Named("evaluation"),
	}
}

// Request evaluates the entity and appends the result as the next version.
// Versions are count+1, which is not race free across concurrent callers.
func (s *Service) Request(ctx context.Context, entityID string, full bool) (radar.Evaluation, error) {
	entity, err := s.store.Get(ctx, entityID)
	if err != nil {
		return radar.Evaluation{}, fmt.Errorf("load entity %s: %w", entityID, err)
	}
	count, err := s.store.CountEvaluations(ctx, entityID)
	if err != nil {
		return radar.Evaluation{}, fmt.Errorf("count evaluations: %w", err)
	}
	version := count + 1

	var ev radar.Evaluation
	if full {
		ev = s.evaluator.EvaluateFull(ctx, entity, version)
	} else {
		ev = s.evaluator.Evaluate(ctx, entity, version)
	}
	ev.Version = version
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.clock.Now()
	}

	if err := s.store.AppendEvaluation(ctx, entityID, ev); err != nil {
		return radar.Evaluation{}, fmt.Errorf("append evaluation: %w", err)
	}
	s.logger.Info("evaluation created",
		zap.String("entity_id", entityID), zap.Int("version", version), zap.Bool("full", full))
	s.publish(ctx, entity, ev)
	return ev, nil
}

// List returns the entity's evaluations in ascending version order.
func (s *Service) List(ctx context.Context, entityID string) ([]radar.Evaluation, error) {
	if _, err := s.store.Get(ctx, entityID); err != nil {
		return nil, fmt.Errorf("load entity %s: %w", entityID, err)
	}
	evs, err := s.store.ListEvaluations(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].Version < evs[j].Version })
	return evs, nil
}

func (s *Service) publish(ctx context.Context, entity radar.Entity, ev radar.Evaluation) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(radar.Event{
		Type:     radar.EventEvaluationCreated,
		EntityID: entity.ID,
		URL:      entity.URL,
		Title:    entity.Title,
		Score:    ev.OverallScore,
		Version:  ev.Version,
		At:       ev.CreatedAt,
	})
	if err != nil {
		s.logger.Warn("marshal evaluation event", zap.Error(err))
		return
	}
	if _, err := s.publisher.Publish(ctx, s.topic, payload); err != nil {
		s.logger.Warn("publish evaluation event", zap.String("entity_id", entity.ID), zap.Error(err))
	}
}
