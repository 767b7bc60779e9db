package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"xoracle/internal/application/port"
	"xoracle/internal/domain"
	"xoracle/internal/domain/model"
)

var ErrEmptyMember = errors.New("member is empty")

// RoleTable 进程内角色表，启动时由配置初始化
type RoleTable struct {
	mu      sync.RWMutex
	members map[model.Role]map[model.Identity]struct{}
}

func NewRoleTable(keepers, admins []string) *RoleTable {
	t := &RoleTable{members: map[model.Role]map[model.Identity]struct{}{
		model.RoleKeeper: {},
		model.RoleAdmin:  {},
	}}
	for _, k := range keepers {
		t.members[model.RoleKeeper][model.Identity(k)] = struct{}{}
	}
	for _, a := range admins {
		t.members[model.RoleAdmin][model.Identity(a)] = struct{}{}
	}
	return t
}

func (t *RoleTable) HasRole(ctx context.Context, role model.Role, caller model.Identity) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set, ok := t.members[role]
	if !ok {
		return false, domain.ErrInvalidRole
	}
	_, has := set[caller]
	return has, nil
}

// Grant 由 admin 为 member 授予角色
func (t *RoleTable) Grant(ctx context.Context, caller model.Identity, role model.Role, member model.Identity) error {
	if member == "" {
		return ErrEmptyMember
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.requireAdminLocked(caller); err != nil {
		return err
	}
	set, ok := t.members[role]
	if !ok {
		return domain.ErrInvalidRole
	}
	set[member] = struct{}{}

	log.Info().
		Str("caller", caller.String()).
		Str("role", string(role)).
		Str("member", member.String()).
		Msg("role granted")
	return nil
}

// Revoke 由 admin 撤销角色；不允许撤销最后一个 admin
func (t *RoleTable) Revoke(ctx context.Context, caller model.Identity, role model.Role, member model.Identity) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.requireAdminLocked(caller); err != nil {
		return err
	}
	set, ok := t.members[role]
	if !ok {
		return domain.ErrInvalidRole
	}
	if _, has := set[member]; !has {
		return nil
	}
	if role == model.RoleAdmin && len(set) == 1 {
		return domain.ErrLastAdmin
	}
	delete(set, member)

	log.Info().
		Str("caller", caller.String()).
		Str("role", string(role)).
		Str("member", member.String()).
		Msg("role revoked")
	return nil
}

// Members 返回排序后的成员列表
func (t *RoleTable) Members(role model.Role) []model.Identity {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]model.Identity, 0, len(t.members[role]))
	for m := range t.members[role] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (t *RoleTable) requireAdminLocked(caller model.Identity) error {
	if _, ok := t.members[model.RoleAdmin][caller]; !ok {
		return fmt.Errorf("%w: %q lacks role %s", domain.ErrUnauthorized, caller, model.RoleAdmin)
	}
	return nil
}

var _ port.Authorizer = (*RoleTable)(nil)
