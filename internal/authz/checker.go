// Package authz decides whether an actor may mutate an appointment.
//
// The actor's relation to the appointment is turned into roles in code
// (owner, creator, attendee, other). A casbin policy then grants actions per
// role and folder type.
package authz

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"

	"calendar-service/internal/domain"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

const (
	RoleOwner    = "owner"
	RoleCreator  = "creator"
	RoleAttendee = "attendee"
	RoleOther    = "other"
)

// Checker implements calendar.Permissions.
type Checker struct {
	enforcer *casbin.SyncedEnforcer
}

// NewChecker builds a checker from the embedded policy, or from policyPath
// when it names an existing file.
func NewChecker(policyPath string) (*Checker, error) {
	m, err := model.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}

	var e *casbin.SyncedEnforcer
	if policyPath != "" && fileExists(policyPath) {
		e, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(policyPath))
	} else {
		e, err = casbin.NewSyncedEnforcer(m)
		if err == nil {
			err = loadPolicy(e, embeddedPolicy)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}
	return &Checker{enforcer: e}, nil
}

func loadPolicy(e *casbin.SyncedEnforcer, policy string) error {
	for line := range strings.SplitSeq(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if parts[0] != "p" || len(parts) != 4 {
			return fmt.Errorf("invalid policy line %q", line)
		}
		if _, err := e.AddPolicy(parts[1], parts[2], parts[3]); err != nil {
			return fmt.Errorf("failed to add policy %v: %w", parts[1:], err)
		}
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Roles returns the roles actor holds on a.
func Roles(a *domain.Appointment, actor int64) []string {
	var roles []string
	if a.FolderType == domain.FolderShared && a.SharedFolderOwner == actor {
		roles = append(roles, RoleOwner)
	}
	if a.CreatedBy == actor {
		roles = append(roles, RoleCreator)
	}
	if _, ok := a.Attendee(actor); ok {
		roles = append(roles, RoleAttendee)
	}
	if len(roles) == 0 {
		roles = append(roles, RoleOther)
	}
	return roles
}

func (c *Checker) MayMutate(_ context.Context, a *domain.Appointment, actor int64, action string) (bool, error) {
	folder := string(a.FolderType)
	if folder == "" {
		folder = string(domain.FolderPrivate)
	}
	for _, role := range Roles(a, actor) {
		ok, err := c.enforcer.Enforce(role, folder, action)
		if err != nil {
			return false, fmt.Errorf("enforcement failed: %w", err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
