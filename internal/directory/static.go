package directory

import (
	"context"
	"fmt"

	"github.com/infodancer/groupmail/internal/config"
)

type staticGroup struct {
	Group
	members map[string]bool
}

// Static is a Directory backed by the [groupmail.directory] configuration.
type Static struct {
	privileged map[string]bool
	groups     map[string]*staticGroup
	order      []string
}

// NewStatic builds a Static directory from configuration.
func NewStatic(cfg config.DirectoryConfig) *Static {
	s := &Static{
		privileged: make(map[string]bool, len(cfg.PrivilegedUsers)),
		groups:     make(map[string]*staticGroup, len(cfg.Groups)),
	}
	for _, u := range cfg.PrivilegedUsers {
		s.privileged[u] = true
	}
	for _, gc := range cfg.Groups {
		g := &staticGroup{
			Group:   Group{Account: gc.Account, Name: gc.Name, Sender: gc.Sender},
			members: make(map[string]bool, len(gc.Members)),
		}
		if g.Name == "" {
			g.Name = gc.Account
		}
		for _, m := range gc.Members {
			g.members[m] = true
		}
		s.groups[gc.Account] = g
		s.order = append(s.order, gc.Account)
	}
	return s
}

// HasPrivilege implements Directory.
func (s *Static) HasPrivilege(ctx context.Context, user string) (bool, error) {
	return s.privileged[user], nil
}

// Group implements Directory.
func (s *Static) Group(ctx context.Context, account string) (Group, error) {
	g, ok := s.groups[account]
	if !ok {
		return Group{}, fmt.Errorf("%w: %s", ErrUnknownGroup, account)
	}
	return g.Group, nil
}

// IsMember implements Directory.
func (s *Static) IsMember(ctx context.Context, account, user string) (bool, error) {
	g, ok := s.groups[account]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownGroup, account)
	}
	return g.members[user], nil
}

// SenderGroups implements Directory. Groups are returned in configuration order.
func (s *Static) SenderGroups(ctx context.Context, user string) ([]Group, error) {
	var groups []Group
	for _, account := range s.order {
		g := s.groups[account]
		if g.Sender && g.members[user] {
			groups = append(groups, g.Group)
		}
	}
	return groups, nil
}
