package guardrails

import "github.com/upb/security-audit/models"

// Rule lists the context a critical event type must carry to be persisted
type Rule struct {
	RequireActor             bool       `yaml:"require_actor"`
	RequireTenant            bool       `yaml:"require_tenant"`
	RequiredTopLevelFields   []string   `yaml:"required_top_level_fields"`
	RequiredDetailPaths      []string   `yaml:"required_detail_paths"`
	RequiredDetailAnyOfPaths [][]string `yaml:"required_detail_any_of_paths"`
}

var resourceFields = []string{"resource", "resource_id"}

// defaultRules is the allow-list of critical security event types.
// Event types missing from this table are never blocked.
var defaultRules = map[string]Rule{
	models.EventUserCreated: {RequireActor: true, RequiredTopLevelFields: resourceFields},
	models.EventUserUpdated: {RequireActor: true, RequiredTopLevelFields: resourceFields},
	models.EventUserDeleted: {RequireActor: true, RequiredTopLevelFields: resourceFields},

	models.EventRoleCreated: {
		RequireActor:             true,
		RequireTenant:            true,
		RequiredTopLevelFields:   resourceFields,
		RequiredDetailPaths:      []string{"roleId"},
		RequiredDetailAnyOfPaths: [][]string{{"roleAlias", "roleName"}},
	},
	models.EventRoleUpdated: {
		RequireActor:           true,
		RequireTenant:          true,
		RequiredTopLevelFields: resourceFields,
		RequiredDetailPaths:    []string{"roleId"},
	},
	models.EventRoleDeleted: {
		RequireActor:             true,
		RequireTenant:            true,
		RequiredTopLevelFields:   resourceFields,
		RequiredDetailPaths:      []string{"roleId"},
		RequiredDetailAnyOfPaths: [][]string{{"roleAlias", "roleName"}},
	},
	models.EventRoleAssigned: {
		RequireActor:             true,
		RequireTenant:            true,
		RequiredDetailPaths:      []string{"roleId"},
		RequiredDetailAnyOfPaths: [][]string{{"targetUserId", "userId"}},
	},
	models.EventRoleRevoked: {
		RequireActor:             true,
		RequireTenant:            true,
		RequiredDetailPaths:      []string{"roleId"},
		RequiredDetailAnyOfPaths: [][]string{{"targetUserId", "userId"}},
	},
	models.EventPermissionGranted: {
		RequireActor:             true,
		RequireTenant:            true,
		RequiredDetailPaths:      []string{"roleId"},
		RequiredDetailAnyOfPaths: [][]string{{"permission", "permissionKey"}},
	},
	models.EventPermissionRevoked: {
		RequireActor:             true,
		RequireTenant:            true,
		RequiredDetailPaths:      []string{"roleId"},
		RequiredDetailAnyOfPaths: [][]string{{"permission", "permissionKey"}},
	},

	models.EventRewardCreated: {
		RequireActor:           true,
		RequiredTopLevelFields: resourceFields,
		RequiredDetailPaths:    []string{"rewardId"},
	},
	models.EventRewardUpdated: {
		RequireActor:           true,
		RequiredTopLevelFields: resourceFields,
		RequiredDetailPaths:    []string{"rewardId"},
	},
	models.EventRewardRedeemed: {
		RequireActor:           true,
		RequireTenant:          true,
		RequiredTopLevelFields: resourceFields,
		RequiredDetailPaths:    []string{"rewardId", "pointsSpent"},
	},

	models.EventPointsAwarded: {
		RequireActor:             true,
		RequiredDetailAnyOfPaths: [][]string{{"points", "awardedAmount"}},
	},
	models.EventPointsDeducted: {
		RequireActor:             true,
		RequiredDetailAnyOfPaths: [][]string{{"points", "deductedAmount"}},
	},

	models.EventSettingsUpdated: {
		RequireActor:             true,
		RequireTenant:            true,
		RequiredDetailAnyOfPaths: [][]string{{"settingKey", "key"}},
	},

	models.EventWebhookVerificationFailed: {
		RequiredDetailPaths:      []string{"provider"},
		RequiredDetailAnyOfPaths: [][]string{{"reason", "error"}},
	},
}

// DefaultRules returns a copy of the built-in rule table
func DefaultRules() map[string]Rule {
	out := make(map[string]Rule, len(defaultRules))
	for k, v := range defaultRules {
		out[k] = v
	}
	return out
}
