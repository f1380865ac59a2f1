// Package gate resolves an authenticated principal's role and authorizes
// access to the admin, faculty and student surfaces. The role document is
// the sole authorization input; a principal without one is denied.
package gate

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"marksportal/internal/records"
	"marksportal/internal/store"
)

var (
	// ErrNoRole marks an authenticated principal with no role document.
	ErrNoRole = errors.New("no role assigned")

	// ErrUnknownRole marks a role document holding a value outside the
	// known set.
	ErrUnknownRole = errors.New("unknown role")

	// ErrInvalidRole rejects an assignment outside the known set.
	ErrInvalidRole = errors.New("role must be ADMIN, FACULTY or STUDENT")
)

// Principal is an authenticated identity making requests.
type Principal struct {
	UID   string
	Email string
}

// Gate looks up roles and enforces the portal's authorization predicates.
// Bootstrap provisioning is explicit: only the single UID named in
// configuration ever receives an ADMIN role document automatically, and
// only while that configuration is set.
type Gate struct {
	store        store.Gateway
	bootstrapUID string
	log          *logrus.Entry
}

func New(gw store.Gateway, bootstrapUID string, log *logrus.Entry) *Gate {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Gate{store: gw, bootstrapUID: bootstrapUID, log: log}
}

// Resolve returns the principal's role. A missing role document yields
// ErrNoRole unless the principal is the configured bootstrap admin, in
// which case an ADMIN role document is provisioned and logged.
func (g *Gate) Resolve(ctx context.Context, p Principal) (string, error) {
	doc, ok, err := g.store.GetByKey(ctx, records.CollRoles, p.UID)
	if err != nil {
		return "", err
	}
	if !ok {
		if g.bootstrapUID != "" && p.UID == g.bootstrapUID {
			return g.provisionBootstrapAdmin(ctx, p)
		}
		return "", ErrNoRole
	}

	role, _ := doc.Fields["role"].(string)
	role = strings.ToUpper(strings.TrimSpace(role))
	if !records.ValidRole(role) {
		return "", ErrUnknownRole
	}
	return role, nil
}

func (g *Gate) provisionBootstrapAdmin(ctx context.Context, p Principal) (string, error) {
	err := g.store.SetByKey(ctx, records.CollRoles, p.UID, map[string]any{
		"role":      records.RoleAdmin,
		"email":     p.Email,
		"createdAt": g.store.ServerTimestamp(),
	}, false)
	if err != nil {
		return "", err
	}
	g.log.WithFields(logrus.Fields{
		"uid":   p.UID,
		"email": p.Email,
	}).Warn("gate: bootstrap admin role provisioned")
	return records.RoleAdmin, nil
}

// Assign writes a role document for a principal. Roles normalize to upper
// case; anything outside the known set is rejected.
func (g *Gate) Assign(ctx context.Context, uid, email, role string) error {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return errors.New("uid is required")
	}
	role = strings.ToUpper(strings.TrimSpace(role))
	if !records.ValidRole(role) {
		return ErrInvalidRole
	}
	return g.store.SetByKey(ctx, records.CollRoles, uid, map[string]any{
		"role":      role,
		"email":     email,
		"updatedAt": g.store.ServerTimestamp(),
	}, true)
}

// CanEnterMarks reports whether a faculty principal may write marks for
// the subject and section, i.e. whether the matching assignment document
// exists. The composite assignment key makes this a direct lookup.
func (g *Gate) CanEnterMarks(ctx context.Context, facultyID, subjectCode, section string) (bool, error) {
	key := records.CompositeKey(facultyID, subjectCode, section)
	if key == "" {
		return false, nil
	}
	_, ok, err := g.store.GetByKey(ctx, records.CollAssignments, key)
	return ok, err
}
