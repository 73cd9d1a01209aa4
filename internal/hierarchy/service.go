package hierarchy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/untibullet/teamhub/internal/models"
	"github.com/untibullet/teamhub/internal/repository"
	"go.uber.org/zap"
)

// TeamHierarchy предки и потомки одной команды
type TeamHierarchy struct {
	Parents  []models.TeamNode `json:"parents"`
	Children []models.TeamNode `json:"children"`
}

// Service читает снимок иерархии в транзакции и проверяет изменения связей
type Service struct {
	repo    repository.Transactor
	logger  *zap.Logger
	timeout time.Duration
}

func NewService(repo repository.Transactor, logger *zap.Logger, timeout time.Duration) *Service {
	return &Service{
		repo:    repo,
		logger:  logger.Named("hierarchy"),
		timeout: timeout,
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func loadGraph(ctx context.Context, tx repository.Tx) (*Graph, error) {
	teams, err := tx.ListTeams(ctx)
	if err != nil {
		return nil, err
	}
	edges, err := tx.ListEdges(ctx)
	if err != nil {
		return nil, err
	}
	return NewGraph(teams, edges), nil
}

// snapshot выполняет fn над свежим снимком графа
func (s *Service) snapshot(ctx context.Context, fn func(g *Graph) error) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	return s.repo.InTx(ctx, func(tx repository.Tx) error {
		g, err := loadGraph(ctx, tx)
		if err != nil {
			return err
		}
		return fn(g)
	})
}

// AddEdge добавляет связь parent -> child. Проверка и вставка выполняются
// под блокировкой таблицы иерархии, поэтому параллельные вставки не замкнут цикл.
func (s *Service) AddEdge(ctx context.Context, parentID, childID uuid.UUID) (*models.HierarchyEdge, error) {
	if parentID == childID {
		return nil, fmt.Errorf("%w: team cannot be its own parent", models.ErrValidation)
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var edge *models.HierarchyEdge
	err := s.repo.InTx(ctx, func(tx repository.Tx) error {
		if err := tx.LockHierarchy(ctx); err != nil {
			return err
		}
		g, err := loadGraph(ctx, tx)
		if err != nil {
			return err
		}
		if !g.HasTeam(parentID) {
			return fmt.Errorf("parent team %s: %w", parentID, models.ErrNotFound)
		}
		if !g.HasTeam(childID) {
			return fmt.Errorf("child team %s: %w", childID, models.ErrNotFound)
		}
		if g.HasEdge(parentID, childID) {
			return fmt.Errorf("%w: hierarchy relationship already exists", models.ErrConflict)
		}
		if !g.CanAddEdge(parentID, childID) {
			return fmt.Errorf("%w: this would create a circular reference", models.ErrConflict)
		}
		edge, err = tx.InsertEdge(ctx, parentID, childID)
		return err
	})
	if err != nil {
		s.logger.Warn("hierarchy edge rejected",
			zap.String("parent_team_id", parentID.String()),
			zap.String("child_team_id", childID.String()),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("hierarchy edge added",
		zap.String("parent_team_id", parentID.String()),
		zap.String("child_team_id", childID.String()))
	return edge, nil
}

// RemoveEdge удаляет связь и возвращает её прежнее состояние
func (s *Service) RemoveEdge(ctx context.Context, parentID, childID uuid.UUID) (*models.HierarchyEdge, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var removed *models.HierarchyEdge
	err := s.repo.InTx(ctx, func(tx repository.Tx) error {
		if err := tx.LockHierarchy(ctx); err != nil {
			return err
		}
		edges, err := tx.ListEdges(ctx)
		if err != nil {
			return err
		}
		for i := range edges {
			if edges[i].ParentTeamID == parentID && edges[i].ChildTeamID == childID {
				removed = &edges[i]
				break
			}
		}
		if removed == nil {
			return fmt.Errorf("hierarchy relationship: %w", models.ErrNotFound)
		}
		return tx.DeleteEdge(ctx, parentID, childID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("hierarchy edge removed",
		zap.String("parent_team_id", parentID.String()),
		zap.String("child_team_id", childID.String()))
	return removed, nil
}

// CanAddEdge проверяет связь без вставки
func (s *Service) CanAddEdge(ctx context.Context, parentID, childID uuid.UUID) (bool, error) {
	var ok bool
	err := s.snapshot(ctx, func(g *Graph) error {
		ok = g.CanAddEdge(parentID, childID)
		return nil
	})
	return ok, err
}

// Ancestors возвращает предков команды по уровню и имени
func (s *Service) Ancestors(ctx context.Context, teamID uuid.UUID) ([]models.TeamNode, error) {
	var nodes []models.TeamNode
	err := s.snapshot(ctx, func(g *Graph) error {
		if !g.HasTeam(teamID) {
			return fmt.Errorf("team %s: %w", teamID, models.ErrNotFound)
		}
		var err error
		nodes, err = g.Ancestors(teamID)
		return err
	})
	return nodes, err
}

// Descendants возвращает потомков команды по уровню и имени
func (s *Service) Descendants(ctx context.Context, teamID uuid.UUID) ([]models.TeamNode, error) {
	var nodes []models.TeamNode
	err := s.snapshot(ctx, func(g *Graph) error {
		if !g.HasTeam(teamID) {
			return fmt.Errorf("team %s: %w", teamID, models.ErrNotFound)
		}
		var err error
		nodes, err = g.Descendants(teamID)
		return err
	})
	return nodes, err
}

// TeamHierarchy возвращает предков и потомков команды из одного снимка
func (s *Service) TeamHierarchy(ctx context.Context, teamID uuid.UUID) (*TeamHierarchy, error) {
	var h TeamHierarchy
	err := s.snapshot(ctx, func(g *Graph) error {
		if !g.HasTeam(teamID) {
			return fmt.Errorf("team %s: %w", teamID, models.ErrNotFound)
		}
		var err error
		if h.Parents, err = g.Ancestors(teamID); err != nil {
			return err
		}
		h.Children, err = g.Descendants(teamID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// Neighbours возвращает непосредственных родителей и детей команды
func (s *Service) Neighbours(ctx context.Context, teamID uuid.UUID) (parents, children []models.Team, err error) {
	err = s.snapshot(ctx, func(g *Graph) error {
		parents = g.Parents(teamID)
		children = g.Children(teamID)
		return nil
	})
	return parents, children, err
}

// Roots команды без родителя
func (s *Service) Roots(ctx context.Context) ([]models.Team, error) {
	var teams []models.Team
	err := s.snapshot(ctx, func(g *Graph) error {
		teams = g.Roots()
		return nil
	})
	return teams, err
}

// Leaves команды без детей
func (s *Service) Leaves(ctx context.Context) ([]models.Team, error) {
	var teams []models.Team
	err := s.snapshot(ctx, func(g *Graph) error {
		teams = g.Leaves()
		return nil
	})
	return teams, err
}

// Tree вся иерархия от корней
func (s *Service) Tree(ctx context.Context) ([]models.TeamNode, error) {
	var nodes []models.TeamNode
	err := s.snapshot(ctx, func(g *Graph) error {
		var err error
		nodes, err = g.Tree()
		return err
	})
	return nodes, err
}
