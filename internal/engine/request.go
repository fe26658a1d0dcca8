package engine

import (
	"fmt"
	"regexp"

	"gateway/internal/apperrors"
	"gateway/internal/resource"
)

const (
	maxIDLength      = 128
	maxJobNameLength = 64
	maxOwnerLength   = 64
)

// idPattern allows alphanumeric, hyphens, underscores and dots.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// LaunchRequest asks the engine to execute one task on a remote resource.
type LaunchRequest struct {
	ExperimentID  string                   `json:"experimentId"`
	TaskID        string                   `json:"taskId"`
	JobName       string                   `json:"jobName,omitempty"`
	OwnerUserName string                   `json:"ownerUserName"`
	RemoteHost    string                   `json:"remoteHost"`
	Family        resource.SchedulerFamily `json:"family"`
	CredentialRef string                   `json:"credentialRef,omitempty"`
}

// validate rejects malformed launch requests before any state is created.
func (r LaunchRequest) validate() error {
	if err := validateID("experimentId", r.ExperimentID); err != nil {
		return err
	}
	if err := validateID("taskId", r.TaskID); err != nil {
		return err
	}
	if r.OwnerUserName == "" {
		return apperrors.Validation("ownerUserName", "owner user name is required")
	}
	if len(r.OwnerUserName) > maxOwnerLength {
		return apperrors.Validation("ownerUserName", fmt.Sprintf("owner exceeds maximum length of %d", maxOwnerLength))
	}
	if len(r.JobName) > maxJobNameLength {
		return apperrors.Validation("jobName", fmt.Sprintf("job name exceeds maximum length of %d", maxJobNameLength))
	}
	if r.RemoteHost == "" {
		return apperrors.Validation("remoteHost", "remote host is required")
	}
	if len(r.CredentialRef) > maxIDLength {
		return apperrors.Validation("credentialRef", fmt.Sprintf("credentialRef exceeds maximum length of %d", maxIDLength))
	}
	switch r.Family {
	case resource.FamilyPBS, resource.FamilySlurm, resource.FamilyLSF, resource.FamilyUGE:
	default:
		return apperrors.Validation("family", fmt.Sprintf("unknown scheduler family %q", r.Family))
	}
	return nil
}

func validateID(field, value string) error {
	if value == "" {
		return apperrors.Validation(field, field+" is required")
	}
	if len(value) > maxIDLength {
		return apperrors.Validation(field, fmt.Sprintf("%s exceeds maximum length of %d", field, maxIDLength))
	}
	if !idPattern.MatchString(value) {
		return apperrors.Validation(field, field+" must be alphanumeric (dots, hyphens and underscores allowed, cannot lead)")
	}
	return nil
}
