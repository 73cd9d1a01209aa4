// Package hierarchy проверяет целостность иерархии команд и отвечает на запросы
// о предках и потомках. Обход выполняется в памяти по снимку связей из хранилища.
package hierarchy

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/untibullet/teamhub/internal/models"
)

// Graph снимок иерархии: команды и связи родитель -> потомок.
// Допускает несколько родителей у команды.
type Graph struct {
	teams    map[uuid.UUID]models.Team
	children map[uuid.UUID][]uuid.UUID
	parents  map[uuid.UUID][]uuid.UUID
}

// NewGraph строит граф по списку команд и связей
func NewGraph(teams []models.Team, edges []models.HierarchyEdge) *Graph {
	g := &Graph{
		teams:    make(map[uuid.UUID]models.Team, len(teams)),
		children: make(map[uuid.UUID][]uuid.UUID),
		parents:  make(map[uuid.UUID][]uuid.UUID),
	}
	for _, t := range teams {
		g.teams[t.ID] = t
	}
	for _, e := range edges {
		g.children[e.ParentTeamID] = append(g.children[e.ParentTeamID], e.ChildTeamID)
		g.parents[e.ChildTeamID] = append(g.parents[e.ChildTeamID], e.ParentTeamID)
	}
	return g
}

// HasTeam сообщает, есть ли команда в снимке
func (g *Graph) HasTeam(id uuid.UUID) bool {
	_, ok := g.teams[id]
	return ok
}

// HasEdge сообщает, есть ли прямая связь parent -> child
func (g *Graph) HasEdge(parentID, childID uuid.UUID) bool {
	for _, c := range g.children[parentID] {
		if c == childID {
			return true
		}
	}
	return false
}

// CanAddEdge возвращает false, если связь parent -> child сделает команду
// собственным родителем или замкнёт цикл
func (g *Graph) CanAddEdge(parentID, childID uuid.UUID) bool {
	if parentID == childID {
		return false
	}
	// Цикл появится, если parent уже достижим из child по связям вниз
	return !g.reachable(childID, parentID)
}

// reachable обходит граф вниз от from; посещённые вершины не повторяются
func (g *Graph) reachable(from, to uuid.UUID) bool {
	visited := map[uuid.UUID]bool{from: true}
	queue := []uuid.UUID{from}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range g.children[id] {
			if next == to {
				return true
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// Ancestors возвращает всех предков команды. Уровень 0 у непосредственных родителей.
func (g *Graph) Ancestors(teamID uuid.UUID) ([]models.TeamNode, error) {
	return g.walk(teamID, g.parents, false)
}

// Descendants возвращает всех потомков команды. Уровень 0 у непосредственных детей,
// ParentTeamID указывает на родителя, через которого потомок найден.
func (g *Graph) Descendants(teamID uuid.UUID) ([]models.TeamNode, error) {
	return g.walk(teamID, g.children, true)
}

// walk обходит граф в ширину в одном направлении и сортирует результат по уровню и имени.
// Перед обходом достижимый подграф проверяется на циклы.
func (g *Graph) walk(start uuid.UUID, next map[uuid.UUID][]uuid.UUID, withParent bool) ([]models.TeamNode, error) {
	if err := g.checkAcyclic([]uuid.UUID{start}, next); err != nil {
		return nil, err
	}

	level := map[uuid.UUID]int{start: -1}
	queue := []uuid.UUID{start}
	nodes := make([]models.TeamNode, 0)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, n := range next[id] {
			if _, seen := level[n]; seen {
				continue
			}
			level[n] = level[id] + 1
			queue = append(queue, n)

			node := models.TeamNode{Team: g.team(n), Level: level[n]}
			if withParent {
				via := id
				node.ParentTeamID = &via
			}
			nodes = append(nodes, node)
		}
	}
	sortNodes(nodes)
	return nodes, nil
}

// Roots команды без родителя, по имени
func (g *Graph) Roots() []models.Team {
	return g.filterTeams(func(id uuid.UUID) bool { return len(g.parents[id]) == 0 })
}

// Leaves команды без детей, по имени
func (g *Graph) Leaves() []models.Team {
	return g.filterTeams(func(id uuid.UUID) bool { return len(g.children[id]) == 0 })
}

// Parents непосредственные родители команды, по имени
func (g *Graph) Parents(teamID uuid.UUID) []models.Team {
	return g.teamsByID(g.parents[teamID])
}

// Children непосредственные дети команды, по имени
func (g *Graph) Children(teamID uuid.UUID) []models.Team {
	return g.teamsByID(g.children[teamID])
}

// Tree возвращает всю иерархию от корней: корни на уровне 0, дальше по уровню и имени.
// Команды, недостижимые из корней, могут быть только частью цикла, это ошибка целостности.
func (g *Graph) Tree() ([]models.TeamNode, error) {
	roots := g.Roots()
	starts := make([]uuid.UUID, 0, len(g.teams))
	for id := range g.teams {
		starts = append(starts, id)
	}
	if err := g.checkAcyclic(starts, g.children); err != nil {
		return nil, err
	}

	level := make(map[uuid.UUID]int, len(g.teams))
	nodes := make([]models.TeamNode, 0, len(g.teams))
	queue := make([]uuid.UUID, 0, len(roots))
	for _, r := range roots {
		level[r.ID] = 0
		queue = append(queue, r.ID)
		nodes = append(nodes, models.TeamNode{Team: r})
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, c := range g.children[id] {
			if _, seen := level[c]; seen {
				continue
			}
			level[c] = level[id] + 1
			queue = append(queue, c)
			parent := id
			nodes = append(nodes, models.TeamNode{Team: g.team(c), ParentTeamID: &parent, Level: level[c]})
		}
	}
	sortNodes(nodes)
	return nodes, nil
}

const (
	white = iota
	grey
	black
)

// checkAcyclic ищет цикл поиском в глубину с тремя цветами по подграфу,
// достижимому из starts в направлении next
func (g *Graph) checkAcyclic(starts []uuid.UUID, next map[uuid.UUID][]uuid.UUID) error {
	color := make(map[uuid.UUID]int)

	type frame struct {
		id  uuid.UUID
		pos int
	}
	for _, s := range starts {
		if color[s] != white {
			continue
		}
		stack := []frame{{id: s}}
		color[s] = grey
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			edges := next[top.id]
			if top.pos == len(edges) {
				color[top.id] = black
				stack = stack[:len(stack)-1]
				continue
			}
			n := edges[top.pos]
			top.pos++
			switch color[n] {
			case grey:
				return fmt.Errorf("%w: cycle in team hierarchy through team %s", models.ErrIntegrity, n)
			case white:
				color[n] = grey
				stack = append(stack, frame{id: n})
			}
		}
	}
	return nil
}

func (g *Graph) team(id uuid.UUID) models.Team {
	if t, ok := g.teams[id]; ok {
		return t
	}
	// Связь на команду вне снимка: отдаём хотя бы идентификатор
	return models.Team{ID: id}
}

func (g *Graph) filterTeams(keep func(uuid.UUID) bool) []models.Team {
	teams := make([]models.Team, 0)
	for id, t := range g.teams {
		if keep(id) {
			teams = append(teams, t)
		}
	}
	sortTeams(teams)
	return teams
}

func (g *Graph) teamsByID(ids []uuid.UUID) []models.Team {
	teams := make([]models.Team, 0, len(ids))
	for _, id := range ids {
		teams = append(teams, g.team(id))
	}
	sortTeams(teams)
	return teams
}

func sortTeams(teams []models.Team) {
	sort.Slice(teams, func(i, j int) bool {
		if teams[i].Name != teams[j].Name {
			return teams[i].Name < teams[j].Name
		}
		return teams[i].ID.String() < teams[j].ID.String()
	})
}

func sortNodes(nodes []models.TeamNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Level != nodes[j].Level {
			return nodes[i].Level < nodes[j].Level
		}
		if nodes[i].Name != nodes[j].Name {
			return nodes[i].Name < nodes[j].Name
		}
		return nodes[i].ID.String() < nodes[j].ID.String()
	})
}
