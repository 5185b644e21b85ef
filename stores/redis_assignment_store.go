package stores

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/corvina/rbac"
)

// RedisAssignmentStore keeps user-role bindings in Redis sets, indexed both
// ways (keys: userroles:{userID} and roleusers:{roleID}) so lookups from
// either side stay O(set size).
type RedisAssignmentStore struct {
	client  *redis.Client
	userFmt string // e.g. "userroles:%s"
	roleFmt string // e.g. "roleusers:%s"
}

func NewRedisAssignmentStore(client *redis.Client) *RedisAssignmentStore {
	return &RedisAssignmentStore{client: client, userFmt: "userroles:%s", roleFmt: "roleusers:%s"}
}

func (r *RedisAssignmentStore) userKey(userID string) string {
	return fmt.Sprintf(r.userFmt, userID)
}

func (r *RedisAssignmentStore) roleKey(roleID string) string {
	return fmt.Sprintf(r.roleFmt, roleID)
}

func (r *RedisAssignmentStore) CreateAssignment(ctx context.Context, a *rbac.UserRole) error {
	added, err := r.client.SAdd(ctx, r.userKey(a.UserID), a.RoleID).Result()
	if err != nil {
		return err
	}
	if added == 0 {
		return fmt.Errorf("assignment %s/%s: %w", a.UserID, a.RoleID, rbac.ErrConflict)
	}
	return r.client.SAdd(ctx, r.roleKey(a.RoleID), a.UserID).Err()
}

func (r *RedisAssignmentStore) GetAssignment(ctx context.Context, userID, roleID string) (*rbac.UserRole, error) {
	ok, err := r.client.SIsMember(ctx, r.userKey(userID), roleID).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("assignment %s/%s: %w", userID, roleID, rbac.ErrNotFound)
	}
	return &rbac.UserRole{UserID: userID, RoleID: roleID}, nil
}

func (r *RedisAssignmentStore) DeleteAssignment(ctx context.Context, userID, roleID string) error {
	removed, err := r.client.SRem(ctx, r.userKey(userID), roleID).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return fmt.Errorf("assignment %s/%s: %w", userID, roleID, rbac.ErrNotFound)
	}
	return r.client.SRem(ctx, r.roleKey(roleID), userID).Err()
}

func (r *RedisAssignmentStore) ListRoleIDs(ctx context.Context, userID string) ([]string, error) {
	return r.client.SMembers(ctx, r.userKey(userID)).Result()
}

func (r *RedisAssignmentStore) ListUserIDs(ctx context.Context, roleID string) ([]string, error) {
	return r.client.SMembers(ctx, r.roleKey(roleID)).Result()
}

func (r *RedisAssignmentStore) DeleteAssignmentsByUser(ctx context.Context, userID string) error {
	roleIDs, err := r.ListRoleIDs(ctx, userID)
	if err != nil {
		return err
	}
	for _, roleID := range roleIDs {
		if err := r.client.SRem(ctx, r.roleKey(roleID), userID).Err(); err != nil {
			return err
		}
	}
	return r.client.Del(ctx, r.userKey(userID)).Err()
}

func (r *RedisAssignmentStore) DeleteAssignmentsByRole(ctx context.Context, roleID string) error {
	userIDs, err := r.ListUserIDs(ctx, roleID)
	if err != nil {
		return err
	}
	for _, userID := range userIDs {
		if err := r.client.SRem(ctx, r.userKey(userID), roleID).Err(); err != nil {
			return err
		}
	}
	return r.client.Del(ctx, r.roleKey(roleID)).Err()
}
