package database

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	casbinmodel "github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"gorm.io/gorm"
)

// RoleUser is granted to every registered account.
const RoleUser = "user"

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch(r.obj, p.obj) && regexMatch(r.act, p.act)
`

var defaultPolicies = [][]string{
	{RoleUser, "/v1/profiles*", "(GET)"},
	{RoleUser, "/v1/profile", "(GET)|(PUT)"},
	{RoleUser, "/v1/attachments*", "(GET)|(POST)"},
	{RoleUser, "/v1/conversations*", "(GET)|(POST)"},
	{RoleUser, "/v1/auth/signout", "(POST)"},
	{"admin", "/v1/*", "(GET)|(POST)|(PUT)|(DELETE)"},
}

// Casbin builds the RBAC enforcer with its policies stored through gorm.
func Casbin(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, fmt.Errorf("initialize casbin adapter: %w", err)
	}

	m, err := casbinmodel.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("load casbin model: %w", err)
	}

	e, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}

	for _, p := range defaultPolicies {
		if has, _ := e.HasPolicy(p[0], p[1], p[2]); !has {
			if _, err := e.AddPolicy(p[0], p[1], p[2]); err != nil {
				return nil, fmt.Errorf("add policy %v: %w", p, err)
			}
		}
	}

	if err := e.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("load casbin policy: %w", err)
	}
	return e, nil
}
