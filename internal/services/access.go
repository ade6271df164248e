package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"vigil-backend/internal/models"
)

type membershipChecker interface {
	IsMember(ctx context.Context, userID, orgID uuid.UUID) (bool, error)
}

// accessPolicy answers org-scoped read and review questions for a principal.
// admin is unscoped, org_admin sees members of its organization and everyone
// else sees only their own data.
type accessPolicy struct {
	members membershipChecker
}

func (a accessPolicy) canViewUser(ctx context.Context, p models.Principal, userID uuid.UUID) error {
	if p.UserID == userID || p.Role == models.RoleAdmin {
		return nil
	}
	if p.Role == models.RoleOrgAdmin && p.OrganizationID != nil && a.members != nil {
		ok, err := a.members.IsMember(ctx, userID, *p.OrganizationID)
		if err != nil {
			return storageError("failed to check organization membership", err)
		}
		if ok {
			return nil
		}
	}
	return &ForbiddenError{Message: "You cannot view this learner's data"}
}

// canViewLesson confines an org_admin reading another learner to lessons of
// its own organization. Learner membership alone does not cover lessons of
// other organizations the learner has progress on.
func (a accessPolicy) canViewLesson(p models.Principal, userID uuid.UUID, lesson *models.VideoLesson) error {
	if readScope(p, userID) == nil || sameOrg(p, lesson.OrganizationID) {
		return nil
	}
	return &ForbiddenError{Message: fmt.Sprintf("You cannot view lesson %s", lesson.ID)}
}

// readScope is the organization an org_admin reading someone else is pinned
// to; nil when the read is unscoped.
func readScope(p models.Principal, userID uuid.UUID) *uuid.UUID {
	if p.Role != models.RoleOrgAdmin || p.UserID == userID {
		return nil
	}
	if p.OrganizationID == nil {
		none := uuid.Nil
		return &none
	}
	return p.OrganizationID
}

func sameOrg(p models.Principal, orgID *uuid.UUID) bool {
	return p.OrganizationID != nil && orgID != nil && *p.OrganizationID == *orgID
}

func (a accessPolicy) canManageLesson(p models.Principal, lesson *models.VideoLesson) error {
	switch {
	case p.Role == models.RoleAdmin:
		return nil
	case p.Role == models.RoleOrgAdmin && sameOrg(p, lesson.OrganizationID):
		return nil
	}
	return &ForbiddenError{Message: fmt.Sprintf("You cannot manage lesson %s", lesson.ID)}
}

func (a accessPolicy) canReviewAlert(p models.Principal, alert *models.SecurityAlert) error {
	switch {
	case p.Role == models.RoleAdmin:
		return nil
	case p.Role == models.RoleOrgAdmin && sameOrg(p, alert.OrganizationID):
		return nil
	}
	return &ForbiddenError{Message: "You cannot review this alert"}
}

// orgScope returns the organization filter a reviewer is pinned to; nil means unscoped.
func orgScope(p models.Principal) (*uuid.UUID, error) {
	switch p.Role {
	case models.RoleAdmin:
		return nil, nil
	case models.RoleOrgAdmin:
		if p.OrganizationID == nil {
			return nil, &ForbiddenError{Message: "Organization admin without an organization"}
		}
		return p.OrganizationID, nil
	}
	return nil, &ForbiddenError{Message: "Reviewer role required"}
}
